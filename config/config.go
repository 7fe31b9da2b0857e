// Package config reads the cloud file: the clouds to provision agents from and their templates.
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gammadia/dockyard/provisioner/dockercloud"
	"github.com/samber/lo"
)

const FileVersion = "1"

const CloudTypeDocker = "docker"

type File struct {
	Version string  `yaml:"version"`
	Clouds  []Cloud `yaml:"clouds"`
}

type Cloud struct {
	// Type selects the provisioner, only "docker" exists
	Type               string `yaml:"type,omitempty"`
	dockercloud.Config `yaml:",inline"`
}

var nameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]+$`)

func (file *File) Validate() error {
	if file.Version != FileVersion {
		return fmt.Errorf("unsupported version '%s'", file.Version)
	}
	if len(file.Clouds) < 1 {
		return fmt.Errorf("at least one cloud is required")
	}

	for i := range file.Clouds {
		cloud := &file.Clouds[i]
		if cloud.Type == "" {
			cloud.Type = CloudTypeDocker
		}
		if cloud.Type != CloudTypeDocker {
			return fmt.Errorf("clouds[%d].type '%s' is not supported", i, cloud.Type)
		}
		if !nameRegex.MatchString(cloud.Name) {
			return fmt.Errorf("clouds[%d].name must be a valid identifier", i)
		}
		if len(cloud.Templates) < 1 {
			return fmt.Errorf("clouds[%s].templates must not be empty", cloud.Name)
		}

		for j, template := range cloud.Templates {
			if template.Image == "" {
				return fmt.Errorf("clouds[%s].templates[%d].image is required", cloud.Name, j)
			}
			if template.CredentialsID == "" {
				return fmt.Errorf("clouds[%s].templates[%d].credentialsId is required", cloud.Name, j)
			}
		}
		if images := lo.FindDuplicates(lo.Map(cloud.Templates, func(t dockercloud.TemplateConfig, _ int) string {
			return t.Image
		})); len(images) > 0 {
			return fmt.Errorf("clouds[%s].templates images must be unique, found '%s' more than once", cloud.Name, strings.Join(images, "', '"))
		}
	}

	names := lo.Map(file.Clouds, func(c Cloud, _ int) string {
		return strings.TrimPrefix(c.Name, dockercloud.IDPrefix)
	})
	if duplicates := lo.FindDuplicates(names); len(duplicates) > 0 {
		return fmt.Errorf("clouds names must be unique, found '%s' more than once", strings.Join(duplicates, "', '"))
	}

	return nil
}
