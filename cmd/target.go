// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/fusectl/pkg/efuse"
	"github.com/Thermoquad/fusectl/pkg/fusesim"
	"github.com/Thermoquad/fusectl/pkg/journal"
	"github.com/Thermoquad/fusectl/pkg/probewire"
)

// target is an open session and everything released with it
type target struct {
	session *efuse.Session
	info    string

	client  *probewire.Client // nil in simulator mode
	sim     *fusesim.Array    // nil in probe mode
	journal *journal.Store
}

// openTarget builds a session from the connection flags
func openTarget(extra ...efuse.Option) (*target, error) {
	t := &target{}
	opts := []efuse.Option{efuse.WithLogger(logger)}

	if variantName != "" {
		v, err := efuse.ParseVariant(variantName)
		if err != nil {
			return nil, err
		}
		opts = append(opts, efuse.WithVariant(v))
	}

	if journalPath != "" {
		store, err := journal.Open(journalPath)
		if err != nil {
			return nil, err
		}
		t.journal = store
		opts = append(opts, efuse.WithJournal(store))
	}
	opts = append(opts, extra...)

	var (
		transport efuse.BitTransport
		sensor    efuse.Sensor
	)
	if simImage != "" {
		v, err := efuse.ParseVariant(simVariant)
		if err != nil {
			t.Close()
			return nil, err
		}
		sim, err := fusesim.LoadFile(simImage, v)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("error loading simulator image: %w", err)
		}
		t.sim = sim
		t.info = fmt.Sprintf("Simulator: %s (%s)", simImage, sim.Variant())
		transport, sensor = sim, sim
	} else {
		link, info, err := OpenLink()
		if err != nil {
			t.Close()
			return nil, err
		}
		t.client = probewire.NewClient(link,
			probewire.WithTarget(probeTarget),
			probewire.WithTimeout(probeTimeout),
			probewire.WithClientLogger(logger),
		)
		t.info = info
		transport, sensor = t.client, t.client
	}

	session, err := efuse.New(transport, sensor, opts...)
	if err != nil {
		t.Close()
		return nil, err
	}
	t.session = session
	return t, nil
}

// Close persists the simulator image and releases the link and journal
func (t *target) Close() error {
	var errs []error
	if t.sim != nil {
		if err := t.sim.SaveFile(simImage); err != nil {
			errs = append(errs, fmt.Errorf("error saving simulator image: %w", err))
		}
	}
	if t.client != nil {
		stats := t.client.Stats()
		logger.Debug("link statistics", "packets", stats.TotalPackets, "errors", stats.Errors())
		errs = append(errs, t.client.Close())
	}
	if t.journal != nil {
		errs = append(errs, t.journal.Close())
	}
	return errors.Join(errs...)
}

// withTarget opens a target, runs fn and closes the target
func withTarget(fn func(t *target) error, extra ...efuse.Option) (err error) {
	t, err := openTarget(extra...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := t.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(t)
}
