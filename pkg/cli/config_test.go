package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/urfave/cli/v3"
)

func TestLoadFilePrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	body := `service_url: http://file.example.com
user_id: file-user
state_file: /var/lib/kioku/state.json
features:
  rerank: true
  extraction: false
`
	gt.NoError(t, os.WriteFile(path, []byte(body), 0600))

	var cfg config
	flags := globalFlags(&cfg)
	flags = append(flags, featureFlags(&cfg)...)

	cmd := &cli.Command{
		Name:  "test",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			return cfg.loadFile(c)
		},
	}
	gt.NoError(t, cmd.Run(context.Background(),
		[]string{"test", "--config", path, "--user-id", "flag-user"}))

	// File fills in what flags left unset.
	gt.Equal(t, cfg.serviceURL, "http://file.example.com")
	gt.Equal(t, cfg.stateFile, "/var/lib/kioku/state.json")
	// An explicit flag wins over the file.
	gt.Equal(t, cfg.userID, "flag-user")
	// File feature switches apply.
	gt.True(t, cfg.enableRerank)
	gt.False(t, cfg.enableExtraction)
	// Untouched switches keep their defaults.
	gt.True(t, cfg.enableRetrieval)
}

func TestLoadFileMissing(t *testing.T) {
	var cfg config
	flags := globalFlags(&cfg)

	cmd := &cli.Command{
		Name:  "test",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			return cfg.loadFile(c)
		},
	}
	err := cmd.Run(context.Background(),
		[]string{"test", "--config", "/no/such/config.yml"})
	gt.Error(t, err)
}
