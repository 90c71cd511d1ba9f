// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// fusectl - OTP eFuse programmer
//
// A CLI tool for programming and inspecting the eFuse array of Zynq-7000,
// UltraScale and UltraScale+ devices through a probe or a simulator.

package main

import (
	"os"

	"github.com/Thermoquad/fusectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
