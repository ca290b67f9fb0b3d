package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/puyokura/vibechat/backend"
	"github.com/puyokura/vibechat/config"
	"github.com/puyokura/vibechat/model"
)

var newUser model.SignupRequest

var useraddCmd = &cobra.Command{
	Use:   "useradd",
	Short: "Create an account without going through signup",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		id, err := addUser(cmd.Context(), cfg.Server.DatabasePath, newUser)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", id.FullName, id.ID)
		return nil
	},
}

func init() {
	f := useraddCmd.Flags()
	f.StringVar(&newUser.FullName, "name", "", "full name")
	f.StringVar(&newUser.Email, "email", "", "email address")
	f.StringVar(&newUser.Password, "password", "", "password (at least 6 characters)")
	f.StringVar((*string)(&newUser.Gender), "gender", string(model.GenderOther), "male, female or other")
}

func addUser(ctx context.Context, dbPath string, req model.SignupRequest) (model.Identity, error) {
	if err := req.Validate(); err != nil {
		return model.Identity{}, err
	}
	store, err := backend.NewStore(dbPath)
	if err != nil {
		return model.Identity{}, err
	}
	defer store.Close()
	return store.CreateUser(ctx, req)
}
