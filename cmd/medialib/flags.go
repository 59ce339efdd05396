package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"medialib/internal/config"
	"medialib/internal/media"
)

// subjectFromFlags builds the acting subject. Flags that were not given fall
// back to the [cli] section of the config.
func subjectFromFlags(cmd *cobra.Command, defaults config.CLIConfig) (media.Subject, error) {
	flags := cmd.Flags()

	subj := media.Subject{
		ID:           defaults.User,
		TenantID:     defaults.Tenant,
		NetworkAdmin: defaults.NetworkAdmin,
	}
	role := defaults.Role

	if flags.Changed("user") {
		subj.ID, _ = flags.GetInt64("user")
	}
	if flags.Changed("tenant") {
		subj.TenantID, _ = flags.GetInt64("tenant")
	}
	if flags.Changed("network-admin") {
		subj.NetworkAdmin, _ = flags.GetBool("network-admin")
	}
	if flags.Changed("role") {
		role, _ = flags.GetString("role")
	}

	if subj.ID < 0 {
		return media.Subject{}, fmt.Errorf("invalid user id %d", subj.ID)
	}
	if subj.TenantID == 0 {
		subj.TenantID = media.MainTenant
	}
	if role == "" {
		role = "none"
	}
	r, err := media.ParseRole(role)
	if err != nil {
		return media.Subject{}, err
	}
	subj.Role = r
	return subj, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid entry id %q", s)
	}
	return id, nil
}

func toStatuses(values []string) []media.Status {
	var out []media.Status
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, media.Status(v))
		}
	}
	return out
}

func printEntryLine(e *media.Entry) {
	size := "-"
	if !e.IsDir() {
		size = strconv.FormatInt(e.ByteSize, 10)
	}
	fmt.Printf("#%-6d %-9s %-8s %10s  %s  %s\n",
		e.ID,
		e.Kind,
		e.Status,
		size,
		e.ModifiedAt.Format("2006-01-02 15:04"),
		e.RelativePath,
	)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// readPassphrase prompts on the terminal without echo. When stdin is not a
// terminal the first line is read instead, so scripts can pipe it in.
func readPassphrase(prompt string, confirm bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Repeat passphrase: ")
		again, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		if string(again) != string(pass) {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return string(pass), nil
}
