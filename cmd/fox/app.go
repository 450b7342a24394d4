package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/misty-step/foxglove/internal/config"
	"github.com/misty-step/foxglove/internal/confirm"
	"github.com/misty-step/foxglove/internal/lib"
	"github.com/misty-step/foxglove/internal/provider"
	"github.com/misty-step/foxglove/internal/provision"
	"github.com/misty-step/foxglove/internal/remote"
	"github.com/misty-step/foxglove/internal/spike"
	"github.com/misty-step/foxglove/internal/store"
	"github.com/misty-step/foxglove/internal/teardown"
)

// app wires the full dependency graph for one invocation.
type app struct {
	Logger      *slog.Logger
	Config      config.Config
	Paths       lib.Paths
	Store       *store.Store
	Gate        *confirm.Gate
	Provisioner *provision.Service
	Spike       *spike.Service
	Teardown    *teardown.Service
}

func buildApp(out io.Writer) (*app, error) {
	logger := newLogger(os.Stderr)

	root := lib.DefaultRoot()
	cfg, err := config.Load(root, logger)
	if err != nil {
		return nil, err
	}
	stateRoot := cfg.StateRoot
	if stateRoot == "" {
		stateRoot = root
	}
	paths, err := lib.NewPaths(stateRoot)
	if err != nil {
		return nil, err
	}

	st := store.New(paths)
	runner := &lib.ExecRunner{}
	gateway := remote.NewSSHGateway(runner, cfg.Remote.User)
	vms := provider.NewCLIVMProvider(runner, cfg.VM.ProviderBin)
	backend := provider.NewCLIBackendProvider(runner, cfg.Backend.Bin, cfg.Backend.Provider)
	creds := provider.NewCLICredentialSource(runner, cfg.VM.ProviderBin)

	provisioner := provision.NewService(logger, st, gateway, vms, backend, creds, vms, cfg, paths, out)
	return &app{
		Logger:      logger,
		Config:      cfg,
		Paths:       paths,
		Store:       st,
		Gate:        confirm.NewGate(paths.ConfirmsFile),
		Provisioner: provisioner,
		Spike:       spike.NewService(logger, st, gateway, provisioner, creds, cfg),
		Teardown:    teardown.NewService(logger, st, gateway, vms, backend, cfg),
	}, nil
}
