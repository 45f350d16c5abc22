package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"tbsync/internal/app"
	"tbsync/internal/model"
	"tbsync/internal/tb"
)

var errNoTerminal = errors.New("no terminal for passphrase prompt; set TB_PASSPHRASE")

var (
	markOK     = color.GreenString("✓")
	markFailed = color.RedString("✗")
)

func printPlan(p model.Plan) error {
	data, err := model.EncodePlan(p)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func opLine(op tb.SyncOp) string {
	var sign string
	switch op.Type {
	case tb.OpCreate:
		sign = color.GreenString("+")
	case tb.OpUpdate:
		sign = color.YellowString("~")
	case tb.OpDelete:
		sign = color.RedString("-")
	}
	payload := op.After
	if payload == nil {
		payload = op.Before
	}
	if payload == nil {
		return fmt.Sprintf("%s %s", sign, op.LocalID)
	}
	return fmt.Sprintf("%s %s-%s  %-12s  %s  %s",
		sign,
		payload.Start.Format("15:04"),
		payload.End.Format("15:04"),
		payload.Type.Label(),
		payload.Title,
		color.HiBlackString(op.LocalID),
	)
}

func printOps(ops []tb.SyncOp) {
	for _, op := range ops {
		fmt.Println(opLine(op))
	}
}

func printDivergences(divs []tb.Divergence) {
	for _, d := range divs {
		note := "kept remote"
		if d.Dropped {
			note = "kept remote, local edit dropped"
		}
		fmt.Printf("%s %s %s (%s)\n", color.YellowString("!"), d.LocalID, d.Kind, note)
	}
}

func printTransaction(tx *tb.SyncTransaction) {
	printDivergences(tx.Divergences)
	for _, op := range tx.Ops {
		mark := markOK
		switch op.Status {
		case tb.OpFailed:
			mark = markFailed
		case tb.OpApplied, tb.OpUndone:
		default:
			mark = color.HiBlackString(string(op.Status))
		}
		line := fmt.Sprintf("%s %s", mark, opLine(op))
		if op.Error != "" {
			line += "  " + color.RedString(op.Error)
		}
		fmt.Println(line)
	}
	status := string(tx.Status)
	if tx.Err() != nil {
		status = color.RedString(status)
	}
	fmt.Printf("%s %s  %s (%d ops)\n", tx.Kind, tx.ID, status, len(tx.Ops))
}

func printHistoryLine(tx *tb.SyncTransaction) {
	undoes := ""
	if tx.UndoesID != "" {
		undoes = "  undoes " + tx.UndoesID
	}
	fmt.Printf("#%d  %-4s  %s  %-17s  %d ops%s\n",
		tx.Seq,
		tx.Kind,
		tx.CreatedAt.Format("2006-01-02 15:04:05"),
		tx.Status,
		len(tx.Ops),
		undoes,
	)
}

func printWatchReport(r app.WatchReport) {
	ts := color.HiBlackString(r.Snapshot.FetchedAt.Format("15:04:05"))
	if r.Snapshot.Stale {
		fmt.Printf("%s %s %s unavailable\n", ts, markFailed, r.Date)
		return
	}
	fmt.Printf("%s %s %s  %d events\n", ts, markOK, r.Date, len(r.Snapshot.Remote.Events))
	printDivergences(r.Divergences)
}

// readPassphrase takes the passphrase from TB_PASSPHRASE or prompts for it
// on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	if p, ok := os.LookupEnv("TB_PASSPHRASE"); ok {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
