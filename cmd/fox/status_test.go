package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/misty-step/foxglove/internal/lib"
	"github.com/misty-step/foxglove/internal/store"
)

func TestStatusCmdListsVMs(t *testing.T) {
	t.Parallel()

	deps := statusDeps{
		vms: func() ([]store.VMRecord, error) {
			return []store.VMRecord{
				{Name: "fern-01", Project: "app", Feature: "checkout-flow", SpikeStatus: store.SpikeStatusRunning, SpikeIterations: 2, Cost: store.Cost{TotalUSD: 1.25}},
				{Name: "fern-02", Project: "app", Feature: "search"},
			}, nil
		},
	}

	cmd := newStatusCmdWithDeps(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("cmd.Execute() error = %v", err)
	}
	output := out.String()
	if !strings.Contains(output, "fern-01") || !strings.Contains(output, "fern-02") {
		t.Fatalf("missing VMs in listing:\n%s", output)
	}
	if !strings.Contains(output, "running") {
		t.Fatalf("missing spike status in listing:\n%s", output)
	}
}

func TestStatusCmdDetail(t *testing.T) {
	t.Parallel()

	deps := statusDeps{
		vm: func(name string) (store.VMRecord, error) {
			return store.VMRecord{
				Name:            name,
				SSHHost:         name + ".example.net",
				Project:         "app",
				Feature:         "checkout-flow",
				Branch:          "feature/checkout-flow",
				SpikeStatus:     store.SpikeStatusCompleted,
				SpikeIterations: 3,
				Cost:            store.Cost{TotalUSD: 4.20, InputTokens: 1000, OutputTokens: 2000},
				ReviewURL:       "https://github.com/misty-step/app/pull/17",
			}, nil
		},
	}

	cmd := newStatusCmdWithDeps(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"fern-01"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("cmd.Execute() error = %v", err)
	}
	output := out.String()
	if !strings.Contains(output, "completed (iteration 3)") {
		t.Fatalf("missing spike detail:\n%s", output)
	}
	if !strings.Contains(output, "pull/17") {
		t.Fatalf("missing review URL:\n%s", output)
	}
}

func TestStatusCmdJSON(t *testing.T) {
	t.Parallel()

	deps := statusDeps{
		vms: func() ([]store.VMRecord, error) {
			return []store.VMRecord{{Name: "fern-01", Project: "app"}}, nil
		},
	}

	cmd := newStatusCmdWithDeps(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--json"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("cmd.Execute() error = %v", err)
	}
	var decoded []store.VMRecord
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v\noutput: %s", err, out.String())
	}
	if len(decoded) != 1 || decoded[0].Name != "fern-01" {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestStatusCmdUnknownVM(t *testing.T) {
	t.Parallel()

	deps := statusDeps{
		vm: func(name string) (store.VMRecord, error) {
			return store.VMRecord{}, &lib.NotFoundError{Kind: "vm", Name: name}
		},
	}

	cmd := newStatusCmdWithDeps(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"ghost"})

	if err := cmd.Execute(); !lib.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatusCmdEmpty(t *testing.T) {
	t.Parallel()

	deps := statusDeps{
		vms: func() ([]store.VMRecord, error) { return nil, nil },
	}

	cmd := newStatusCmdWithDeps(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("cmd.Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "no VMs provisioned") {
		t.Fatalf("missing empty message:\n%s", out.String())
	}
}
