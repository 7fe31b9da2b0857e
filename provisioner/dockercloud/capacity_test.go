package dockercloud

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseInstanceCap(t *testing.T) {
	tests := map[string]struct {
		input    string
		expected InstanceCap
		err      bool
	}{
		"empty":    {"", Unbounded, false},
		"blank":    {"  ", Unbounded, false},
		"zero":     {"0", 0, false},
		"five":     {"5", 5, false},
		"negative": {"-1", 0, true},
		"text":     {"lots", 0, true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParseInstanceCap(tt.input)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestInstanceCapString(t *testing.T) {
	assert.Equal(t, "", Unbounded.String())
	assert.Equal(t, "0", InstanceCap(0).String())
	assert.Equal(t, "5", InstanceCap(5).String())
	assert.True(t, Unbounded.IsUnbounded())
	assert.False(t, InstanceCap(0).IsUnbounded())
}

func TestAdmit(t *testing.T) {
	assert.True(t, admit(Unbounded, 1_000_000))
	assert.True(t, admit(0, 1_000_000), "a zero cap enforces nothing")
	assert.True(t, admit(2, 0))
	assert.True(t, admit(2, 1))
	assert.False(t, admit(2, 2))
	assert.False(t, admit(2, 3))
}

func TestTemplateConfigYAML(t *testing.T) {
	for _, persisted := range []string{"", "5"} {
		t.Run("cap '"+persisted+"'", func(t *testing.T) {
			expected, err := ParseInstanceCap(persisted)
			require.NoError(t, err)

			out, err := yaml.Marshal(TemplateConfig{Image: "alpine", InstanceCap: expected})
			require.NoError(t, err)

			var config TemplateConfig
			require.NoError(t, yaml.Unmarshal(out, &config))
			assert.Equal(t, expected, config.InstanceCap)
			assert.Equal(t, persisted, config.InstanceCap.String())
		})
	}
}

func TestTemplateConfigYAMLDefaults(t *testing.T) {
	var config TemplateConfig
	require.NoError(t, yaml.Unmarshal([]byte("image: alpine\nlabels: linux docker\n"), &config))
	assert.Equal(t, Unbounded, config.InstanceCap, "a missing cap is unbounded")

	require.NoError(t, yaml.Unmarshal([]byte("image: alpine\ninstanceCap:\n"), &config))
	assert.Equal(t, Unbounded, config.InstanceCap)

	require.NoError(t, yaml.Unmarshal([]byte("image: alpine\ninstanceCap: 3\n"), &config))
	assert.Equal(t, InstanceCap(3), config.InstanceCap)

	assert.Error(t, yaml.Unmarshal([]byte("image: alpine\ninstanceCap: -2\n"), &config))
	assert.Error(t, yaml.Unmarshal([]byte("image: alpine\ninstanceCap: [1]\n"), &config))
}

func TestTemplate(t *testing.T) {
	tmpl, err := NewTemplate(TemplateConfig{Image: "jenkins/ssh-agent", Labels: "linux  docker"})
	require.NoError(t, err)

	assert.Equal(t, "Image of jenkins/ssh-agent", tmpl.DisplayName())
	assert.Equal(t, 1, tmpl.NumExecutors())
	assert.Equal(t, DefaultRemoteFS, tmpl.RemoteFS())
	assert.Equal(t, []string{"docker", "linux"}, tmpl.Labels().Atoms())
	assert.Equal(t, InstanceCap(0), tmpl.InstanceCap())

	_, err = NewTemplate(TemplateConfig{Labels: "linux"})
	assert.Error(t, err)
}

func TestProvisionError(t *testing.T) {
	cause := errors.New("port is already allocated")
	err := error(&ProvisionError{Cloud: "docker-test", Image: "alpine", ContainerID: containerID(1), Kind: ErrContainerStart, Err: cause})

	assert.ErrorIs(t, err, ErrContainerStart)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "cloud 'docker-test', image 'alpine', container '01ffffffffff': failed to start container: port is already allocated", err.Error())

	assert.Equal(t, "container_start", failureReason(err))
	assert.Equal(t, "cancelled", failureReason(context.Canceled))
	assert.Equal(t, "unknown", failureReason(cause))
}
