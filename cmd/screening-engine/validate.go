package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terra-clan/screening-engine/internal/bank"
	"github.com/terra-clan/screening-engine/internal/config"
	"github.com/terra-clan/screening-engine/internal/scoring"
)

var errInvalidBank = errors.New("question bank is invalid")

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the question bank and check every test can be scored",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := resolveBankDir(cmd, config.LoadBank())
		return validateBank(cmd, dir)
	},
}

func validateBank(cmd *cobra.Command, dir string) error {
	out := cmd.OutOrStdout()

	tests := bank.NewLoader()
	loadErr := tests.LoadFromDir(dir)
	scorer := scoring.Default()

	failed := 0
	for _, def := range tests.List() {
		if scorer.Check(def) != nil {
			fmt.Fprintf(out, "FAIL %s: no scoring strategy %q\n", def.ID, def.Scoring)
			failed++
			continue
		}
		fmt.Fprintf(out, "ok   %s (%d questions)\n", def.ID, def.Len())
	}

	if loadErr != nil {
		fmt.Fprintf(out, "FAIL %v\n", loadErr)
		failed++
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d problem(s) in %s", errInvalidBank, failed, dir)
	}
	return nil
}
