// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package entity parses and validates the entity path grammar of spec §3:
// a '/'-separated sequence of parts, each an identifier, a double-quoted
// string, an unsigned integer, a '#'-prefixed index, or a UUID.
//
// The chunk store itself never interprets a Path beyond treating it as an
// opaque interned key with a parent relation (§3); Path.Parent exists for
// external consumers (transforms, annotation scopes), not for any store
// operation.
package entity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Path is a validated entity path: a '/'-separated
// sequence of Parts. Path values are comparable with == and are safe to
// use as map keys, which is how the store interns them.
type Path string

var identifierRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// PartKind classifies one path segment.
type PartKind int

const (
	PartIdentifier PartKind = iota
	PartString
	PartUint
	PartIndex // '#'-prefixed
	PartUUID
)

// Part is one parsed, classified segment of a Path.
type Part struct {
	Kind PartKind
	Text string // the raw segment, including any quoting/prefix
}

// Parse validates s against the entity path grammar and returns it
// unchanged as a Path (a leading '/' is accepted and kept). Parse rejects the empty path, empty segments, and
// segments that match none of the permitted part kinds.
func Parse(s string) (Path, error) {
	if s == "" {
		return "", fmt.Errorf("entity: empty path")
	}
	parts := strings.Split(strings.TrimPrefix(s, "/"), "/")
	for _, p := range parts {
		if _, err := classify(p); err != nil {
			return "", fmt.Errorf("entity: path %q: %w", s, err)
		}
	}
	return Path(s), nil
}

func classify(seg string) (Part, error) {
	switch {
	case seg == "":
		return Part{}, fmt.Errorf("empty path segment")
	case strings.HasPrefix(seg, `"`) && strings.HasSuffix(seg, `"`) && len(seg) >= 2:
		return Part{Kind: PartString, Text: seg}, nil
	case strings.HasPrefix(seg, "#"):
		if _, err := strconv.ParseUint(seg[1:], 10, 64); err != nil {
			return Part{}, fmt.Errorf("malformed index segment %q: %w", seg, err)
		}
		return Part{Kind: PartIndex, Text: seg}, nil
	case isUint(seg):
		return Part{Kind: PartUint, Text: seg}, nil
	case isUUID(seg):
		return Part{Kind: PartUUID, Text: seg}, nil
	case identifierRE.MatchString(seg):
		return Part{Kind: PartIdentifier, Text: seg}, nil
	default:
		return Part{}, fmt.Errorf("malformed path segment %q", seg)
	}
}

func isUint(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Parts splits p into its classified segments. Parts assumes p was
// produced by Parse (or is otherwise known-valid); it does not re-validate.
func (p Path) Parts() []Part {
	segs := strings.Split(strings.TrimPrefix(string(p), "/"), "/")
	out := make([]Part, len(segs))
	for i, s := range segs {
		part, _ := classify(s)
		out[i] = part
	}
	return out
}

// Parent returns the path with its final segment removed, and true, or
// ("", false) if p has no parent (a single-segment path).
func (p Path) Parent() (Path, bool) {
	s := strings.TrimPrefix(string(p), "/")
	i := strings.LastIndexByte(s, '/')
	if i < 0 {
		return "", false
	}
	return Path(s[:i]), true
}

func (p Path) String() string { return string(p) }
