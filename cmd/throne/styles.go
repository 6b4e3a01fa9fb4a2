package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lox/throne/internal/server"
	"github.com/lox/throne/internal/throne"
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Bold(true).
			Padding(0, 1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Width(16)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	KingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700")).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#96CEB4")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFEAA7")).
			Bold(true)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

func renderRow(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(label), ValueStyle.Render(value))
}

func renderState(state server.StateData) string {
	king := KingStyle.Render(state.CurrentKing.String())
	status := "open"
	switch {
	case state.GameEnded:
		status = SuccessStyle.Render("ended")
	case state.CurrentKing == throne.None:
		status = "waiting for first claim"
	}

	rows := []string{
		HeaderStyle.Render(fmt.Sprintf("Round %d", state.Round)),
		renderRow("Status", status),
		renderRow("King", king),
		renderRow("Pot", fmt.Sprintf("%d", state.Pot)),
		renderRow("Claim fee", fmt.Sprintf("%d", state.ClaimFee)),
	}
	if state.Stagnant {
		rows = append(rows, renderRow("", WarningStyle.Render("fee no longer increases")))
	}
	if state.Deadline != nil {
		rows = append(rows, renderRow("Deadline", fmt.Sprintf("%s (in %s)",
			state.Deadline.Format(time.RFC3339),
			time.Until(*state.Deadline).Round(time.Second))))
	}
	rows = append(rows,
		renderRow("Platform fees", fmt.Sprintf("%d", state.PlatformFees)),
		renderRow("Held funds", fmt.Sprintf("%d", state.HeldFunds)),
	)

	if len(state.PendingWinnings) > 0 {
		ids := make([]string, 0, len(state.PendingWinnings))
		for id := range state.PendingWinnings {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)

		var lines []string
		for _, id := range ids {
			lines = append(lines, fmt.Sprintf("%s: %d", id, state.PendingWinnings[throne.Identity(id)]))
		}
		rows = append(rows, renderRow("Pending", strings.Join(lines, "\n")))
	}

	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
