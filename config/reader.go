package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

type ReadOptions struct {
	// Params are available to the cloud file template as .Params
	Params map[string]string
}

type UnmarshalError struct {
	error
	Source string
}

// Read evaluates the cloud file as a template, then decodes and validates it.
func Read(file string, options ReadOptions) (*File, error) {
	buf, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Parse(string(buf), options)
}

func Parse(source string, options ReadOptions) (*File, error) {
	source, err := evaluateTemplate(source, options)
	if err != nil {
		return nil, fmt.Errorf("evaluate template: %w", err)
	}

	var file File
	decoder := yaml.NewDecoder(strings.NewReader(source))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, UnmarshalError{fmt.Errorf("unmarshal: %w", err), source}
	}
	if err := file.Validate(); err != nil {
		return nil, UnmarshalError{fmt.Errorf("validate: %w", err), source}
	}

	return &file, nil
}

type TemplateData struct {
	Env    map[string]string
	Params map[string]string
}

func evaluateTemplate(source string, options ReadOptions) (string, error) {
	tmpl, err := template.New("cloudfile").Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	data := TemplateData{
		Env:    lo.SliceToMap(os.Environ(), func(env string) (key, val string) { key, val, _ = strings.Cut(env, "="); return }),
		Params: lo.Ternary(options.Params != nil, options.Params, map[string]string{}),
	}

	var output bytes.Buffer
	if err := tmpl.Execute(&output, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return output.String(), nil
}
