package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/forest6511/securefolder/pkg/crypto"
	"github.com/forest6511/securefolder/pkg/vault"
)

// shellCmd starts an interactive session
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Starts an interactive session",
	Long: `Starts an interactive session that keeps the vault unlocked between
commands. Type 'help' for the list of commands. Leaving the shell while the
vault is unlocked asks whether to lock it first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sh := &shell{
			sess:         sess,
			in:           stdin,
			out:          os.Stdout,
			readPassword: readPassword,
			changePass:   changePassword,
		}
		return sh.run()
	},
}

const shellHelp = `Commands:
  unlock          unlock the vault
  lock            lock the vault
  list            list files and folders
  add <path>      copy a file into the vault
  delete <name>   delete a file or folder
  open <name>     open a file with its default application
  info            show storage information
  passwd          change the password
  help            show this help
  exit            leave the shell`

// shell is a line-oriented front end for one session.
type shell struct {
	sess         *vault.Session
	in           *bufio.Reader
	out          io.Writer
	readPassword func(prompt string) ([]byte, error)
	changePass   func() error
}

func (sh *shell) prompter() linePrompter {
	return linePrompter{in: sh.in, out: sh.out}
}

func (sh *shell) run() error {
	unsubscribe := sh.sess.Subscribe(func(st vault.State) {
		fmt.Fprintf(sh.out, "Vault %s\n", st)
	})
	defer unsubscribe()

	if sh.sess.NeedsSetup() {
		fmt.Fprintln(sh.out, "No vault found. Run 'securefolder init' first.")
		return nil
	}
	fmt.Fprintln(sh.out, "Type 'help' for commands.")

	for {
		fmt.Fprintf(sh.out, "securefolder [%s]> ", sh.sess.State())
		line, err := readLine(sh.in)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(sh.out)
			sh.exit()
			return nil
		}
		if err != nil {
			return err
		}

		quit, err := sh.exec(line)
		if err != nil {
			fmt.Fprintf(sh.out, "Error: %v\n", friendlyError(err))
		}
		if quit {
			return nil
		}
	}
}

// exec runs one command line. It reports whether the shell should exit.
func (sh *shell) exec(line string) (bool, error) {
	command, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "":
		return false, nil
	case "exit", "quit":
		sh.exit()
		return true, nil
	case "help":
		fmt.Fprintln(sh.out, shellHelp)
		return false, nil
	case "unlock":
		return false, sh.unlock()
	case "lock":
		sh.sess.Lock()
		return false, nil
	case "list", "ls":
		entries, err := sh.sess.List()
		if err != nil {
			return false, err
		}
		printEntries(sh.out, entries)
		return false, nil
	case "add":
		if arg == "" {
			return false, errors.New("usage: add <path>")
		}
		entry, err := sh.sess.Add(arg)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "Added as %s (%s)\n", entry.Name, humanize.Bytes(uint64(entry.SizeBytes)))
		return false, nil
	case "delete", "rm":
		if arg == "" {
			return false, errors.New("usage: delete <name>")
		}
		if sh.sess.State() != vault.Unlocked {
			return false, vault.ErrVaultLocked
		}
		if !sh.prompter().ask(fmt.Sprintf("Delete '%s' from the vault? This cannot be undone.", arg)) {
			fmt.Fprintln(sh.out, "Aborted")
			return false, nil
		}
		if err := sh.sess.Delete(arg); err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "'%s' deleted\n", arg)
		return false, nil
	case "open":
		if arg == "" {
			return false, errors.New("usage: open <name>")
		}
		return false, sh.sess.Open(arg)
	case "info":
		stats, err := sh.sess.Stats()
		if err != nil {
			return false, err
		}
		printInfo(sh.out, stats, sh.sess.Config(), diskSpace(stats.Path))
		return false, nil
	case "passwd":
		if sh.sess.State() != vault.Unlocked {
			return false, vault.ErrVaultLocked
		}
		return false, sh.changePass()
	default:
		return false, fmt.Errorf("unknown command %q, type 'help'", command)
	}
}

func (sh *shell) unlock() error {
	if sh.sess.State() == vault.Unlocked {
		return nil
	}
	password, err := sh.readPassword("Enter password: ")
	defer crypto.SecureWipe(password)
	if err != nil {
		return err
	}
	return sh.sess.Unlock(string(password))
}

// exit offers to lock an unlocked vault before leaving.
func (sh *shell) exit() {
	sh.sess.Close(func() bool {
		return sh.prompter().ask("The vault is unlocked. Lock it before exiting?")
	})
}
