package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/chatguard/pkg/config"
	"github.com/ZentaChain/chatguard/pkg/guard"
	"github.com/ZentaChain/chatguard/pkg/identity"
	"github.com/ZentaChain/chatguard/pkg/storage"
)

var (
	home       string
	passphrase string
	configPath string

	cfg    config.Config
	db     *storage.DB
	engine *guard.Engine
)

func Execute() error {
	return execute(newRoot())
}

// execute runs root and closes the store even when the command failed
func execute(root *cobra.Command) error {
	err := root.Execute()
	if db != nil {
		if cerr := db.Close(); err == nil {
			err = cerr
		}
		db = nil
	}
	return err
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "chatguard",
		Short:        "End-to-end encryption for packets carried over any chat thread",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".chatguard")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			if configPath == "" {
				if p := filepath.Join(home, "config.yaml"); fileExists(p) {
					configPath = p
				}
			}
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			cfg.DataDir = home
			if passphrase != "" {
				cfg.DBPassword = passphrase
			}

			db, err = storage.Open(cfg.DBPath(), cfg.DBPassword)
			if err != nil {
				return err
			}
			engine = guard.New(cfg, db, db)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "data dir (default ~/.chatguard)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the stored private key")
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config (default <home>/config.yaml when present)")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		handshakeCmd(),
		encryptCmd(),
		handleCmd(),
		contactsCmd(),
	)
	return root
}

// register loads the stored identity into the engine
func register(ctx context.Context) (*identity.Identity, error) {
	stored, err := db.LoadIdentity(ctx)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("no identity yet, run `chatguard init <peer-id>` first")
	}
	if err != nil {
		return nil, err
	}
	return engine.Register(ctx, stored.ID)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
