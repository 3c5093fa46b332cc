package setup

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sort"
)

// InstallPackages runs pip for the given packages, streaming each output
// line to progress. An empty package list installs everything in
// RequiredPackages.
func InstallPackages(ctx context.Context, python string, packages []string, progress func(line string)) error {
	if len(packages) == 0 {
		for pip := range RequiredPackages {
			packages = append(packages, pip)
		}
		sort.Strings(packages)
	}

	args := append([]string{"-m", "pip", "install"}, packages...)
	cmd := exec.CommandContext(ctx, python, args...)

	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating pip stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting pip: %w", err)
	}

	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		if progress != nil {
			progress(scanner.Text())
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("pip install failed: %w", err)
	}
	return nil
}
