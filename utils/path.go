package utils

import "strings"

func NewPath(s ...string) Path {
	p := Path{}
	p = append(p, s...)
	return p
}

// ParsePath splits a dotted field path, "a.b" becomes [a b].
func ParsePath(s string) Path {
	if s == "" {
		return Path{}
	}
	return NewPath(strings.Split(s, ".")...)
}

type Path []string

func (p Path) String() string {
	return strings.Join(p, ".")
}

func (p Path) First() (string, bool) {
	if len(p) == 0 {
		return "", false
	}
	return p[0], true
}

func (p Path) Next() Path {
	if len(p) == 0 {
		return Path{}
	}
	return p[1:]
}
