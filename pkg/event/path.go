// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package event

import "strconv"

// SegmentKind discriminates the two flavours of Path segment.
type SegmentKind uint8

const (
	SegmentField SegmentKind = iota
	SegmentIndex
)

// Segment is one step of a Path: either a named field or an array index.
type Segment struct {
	Kind  SegmentKind
	Field string
	Index int
}

func Field(name string) Segment { return Segment{Kind: SegmentField, Field: name} }
func Index(i int) Segment       { return Segment{Kind: SegmentIndex, Index: i} }

// Path addresses a location within an Event's or Value's tree.
type Path []Segment

// ParseDotPath splits a dotted path string ("a.b.2.c") into a Path, treating
// purely numeric segments as array indices. This is the convenience form
// dedupe/cardinality configuration uses to name fields.
func ParseDotPath(s string) Path {
	if s == "" {
		return nil
	}
	var p Path
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			seg := s[start:i]
			if n, err := strconv.Atoi(seg); err == nil {
				p = append(p, Index(n))
			} else {
				p = append(p, Field(seg))
			}
			start = i + 1
		}
	}
	return p
}

func (p Path) String() string {
	out := ""
	for i, s := range p {
		if i > 0 {
			out += "."
		}
		if s.Kind == SegmentField {
			out += s.Field
		} else {
			out += strconv.Itoa(s.Index)
		}
	}
	return out
}
