// Command postcondition-coverage enumerates registered post-conditions
// per tool contract and reports contracts with no coverage at all,
// exiting non-zero under --fail-on-missing so a CI pipeline can gate on
// it before a contract reaches production with zero post-condition
// checks registered.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"goa.design/autonomy-kernel/kernel/registry"
	"goa.design/autonomy-kernel/kernel/types"
	"goa.design/autonomy-kernel/kernel/verifier"
)

func main() {
	contractsFile := flag.String("contracts-file", "", "path to a JSON array of registered tool contracts")
	coverageFile := flag.String("coverage-file", "", "path to a JSON object mapping tool name to its registered post-condition IDs")
	failOnMissing := flag.Bool("fail-on-missing", false, "exit non-zero if any contract has no registered post-conditions")
	flag.Parse()

	if *contractsFile == "" {
		fmt.Fprintln(os.Stderr, "postcondition-coverage: --contracts-file is required")
		os.Exit(2)
	}

	reg := registry.New()
	if err := loadContracts(reg, *contractsFile); err != nil {
		fmt.Fprintf(os.Stderr, "postcondition-coverage: %v\n", err)
		os.Exit(2)
	}

	v := verifier.New()
	if *coverageFile != "" {
		if err := loadCoverage(v, *coverageFile); err != nil {
			fmt.Fprintf(os.Stderr, "postcondition-coverage: %v\n", err)
			os.Exit(2)
		}
	}

	contracts := reg.List()
	sort.Slice(contracts, func(i, j int) bool { return contracts[i].Name < contracts[j].Name })

	missing := 0
	for _, c := range contracts {
		n := v.Coverage(c.Name)
		status := "covered"
		if n == 0 {
			status = "MISSING"
			missing++
		}
		fmt.Printf("%-40s %-12s postConditions=%d\n", c.Name, status, n)
	}

	fmt.Printf("\n%d/%d contracts have at least one registered post-condition\n", len(contracts)-missing, len(contracts))

	if missing > 0 && *failOnMissing {
		os.Exit(1)
	}
}

func loadContracts(reg *registry.Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read contracts file: %w", err)
	}
	var contracts []types.ToolContract
	if err := json.Unmarshal(data, &contracts); err != nil {
		return fmt.Errorf("parse contracts file: %w", err)
	}
	for _, c := range contracts {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register contract %q: %w", c.Name, err)
		}
	}
	return nil
}

func loadCoverage(v *verifier.Verifier, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read coverage file: %w", err)
	}
	var coverage map[string][]string
	if err := json.Unmarshal(data, &coverage); err != nil {
		return fmt.Errorf("parse coverage file: %w", err)
	}
	for toolName, ids := range coverage {
		for _, id := range ids {
			v.Register(toolName, verifier.PostCondition{
				ID:    id,
				Check: func(context.Context) (bool, error) { return true, nil },
			})
		}
	}
	return nil
}
