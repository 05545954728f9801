package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[PROD]
drupal_protocol = "https"
drupal_hostname = "compass.example.edu"
solr_hostname = "fedora.example.edu"
solr_port = 8080

[STAGE]
drupal_protocol = "https"
drupal_hostname = "compass-stage.example.edu"
drupal_port = "8443"
drupal_object_path = "/object"
fedora_download_path = "/fedora/%s/OBJ"
solr_protocol = "https"
solr_hostname = "fedora-stage.example.edu"
solr_port = "8983"
solr_path = "/solr/core/select"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, []string{"PROD", "STAGE"}, cfg.Names())

	prod, err := cfg.Environment("PROD")
	require.NoError(t, err)
	assert.Equal(t, "PROD", prod.Name)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"prod base", prod.BaseURL(), "https://compass.example.edu"},
		{"prod object path", prod.ObjectPath("a:1"), "/islandora/object/a:1"},
		{"prod object", prod.ObjectURL("a:1"), "https://compass.example.edu/islandora/object/a:1"},
		{"prod download", prod.DownloadURL("a:1"), "https://compass.example.edu/islandora/object/a:1/datastream/OBJ/download"},
		{"prod solr", prod.SolrSelectURL(), "http://fedora.example.edu:8080/solr/collection1/select"},
	}

	stage, err := cfg.Environment("STAGE")
	require.NoError(t, err)
	tests = append(tests, []struct {
		name string
		got  string
		want string
	}{
		{"stage base", stage.BaseURL(), "https://compass-stage.example.edu:8443"},
		{"stage object path", stage.ObjectPath("a:1"), "/object/a:1"},
		{"stage download", stage.DownloadURL("a:1"), "https://compass-stage.example.edu:8443/fedora/a:1/OBJ"},
		{"stage solr", stage.SolrSelectURL(), "https://fedora-stage.example.edu:8983/solr/core/select"},
	}...)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	var mfe *MissingFileError
	require.True(t, errors.As(err, &mfe))
	assert.Contains(t, err.Error(), "missing.toml")

	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	_, err = cfg.Environment("DEV")
	var mse *MissingSectionError
	require.True(t, errors.As(err, &mse))
	assert.Equal(t, "DEV", mse.Section)

	_, err = Load(writeConfig(t, "[PROD\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "[PROD]\nsolr_port = \"http\"\n"))
	assert.Error(t, err)
}
