// Package namegen hands out human readable identifiers for nodes and containers.
package namegen

import (
	"regexp"
	"strings"

	vendor "github.com/anandvarma/namegen"
)

var gen = vendor.New()

var unsafeChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

type ID string

func Get() ID {
	return ID(gen.Get())
}

func (id ID) String() string {
	return string(id)
}

// ContainerName returns a name the docker engine accepts, made of prefix and id.
func (id ID) ContainerName(prefix string) string {
	name := unsafeChars.ReplaceAllString(strings.ToLower(prefix+"-"+string(id)), "-")
	return strings.TrimLeft(name, "_.-")
}
