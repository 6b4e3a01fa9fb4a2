package main

import (
	"fmt"
)

type ClaimCmd struct {
	Amount uint64 `arg:"" help:"Amount to pay. Anything above the claim fee goes to the pot."`
}

func (c *ClaimCmd) Run(g *Globals) error {
	s, err := g.connect(true)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.ClaimThrone(s.ctx, c.Amount); err != nil {
		return err
	}
	fmt.Println(SuccessStyle.Render(fmt.Sprintf("%s claimed the throne for %d", g.As, c.Amount)))
	return nil
}

type DeclareCmd struct{}

func (c *DeclareCmd) Run(g *Globals) error {
	s, err := g.connect(true)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.DeclareWinner(s.ctx); err != nil {
		return err
	}
	state, err := s.State(s.ctx)
	if err != nil {
		return err
	}
	fmt.Println(SuccessStyle.Render(fmt.Sprintf("Winner declared: %s", state.CurrentKing)))
	return nil
}

type WithdrawCmd struct{}

func (c *WithdrawCmd) Run(g *Globals) error {
	s, err := g.connect(true)
	if err != nil {
		return err
	}
	defer s.Close()

	amount, err := s.WithdrawWinnings(s.ctx)
	if err != nil {
		return err
	}
	fmt.Println(SuccessStyle.Render(fmt.Sprintf("Withdrew %d", amount)))
	return nil
}

type WithdrawFeesCmd struct{}

func (c *WithdrawFeesCmd) Run(g *Globals) error {
	s, err := g.connect(true)
	if err != nil {
		return err
	}
	defer s.Close()

	amount, err := s.WithdrawPlatformFees(s.ctx)
	if err != nil {
		return err
	}
	fmt.Println(SuccessStyle.Render(fmt.Sprintf("Withdrew %d in platform fees", amount)))
	return nil
}

type ResetCmd struct{}

func (c *ResetCmd) Run(g *Globals) error {
	s, err := g.connect(true)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.ResetGame(s.ctx); err != nil {
		return err
	}
	state, err := s.State(s.ctx)
	if err != nil {
		return err
	}
	fmt.Println(SuccessStyle.Render(fmt.Sprintf("Round %d started, claim fee %d", state.Round, state.ClaimFee)))
	return nil
}

type StateCmd struct{}

func (c *StateCmd) Run(g *Globals) error {
	s, err := g.connect(false)
	if err != nil {
		return err
	}
	defer s.Close()

	state, err := s.State(s.ctx)
	if err != nil {
		return err
	}
	fmt.Println(renderState(state))
	return nil
}

type PendingCmd struct {
	Identity string `arg:"" optional:"" help:"Identity to look up (defaults to --as)"`
}

func (c *PendingCmd) Run(g *Globals) error {
	identity := c.Identity
	if identity == "" && g.As == "" {
		return fmt.Errorf("an identity argument or --as is required")
	}

	s, err := g.connect(false)
	if err != nil {
		return err
	}
	defer s.Close()

	if identity == "" {
		identity = g.As
	}
	pending, err := s.Pending(s.ctx, identity)
	if err != nil {
		return err
	}
	fmt.Println(renderRow("Pending", fmt.Sprintf("%s: %d", pending.Identity, pending.Amount)))
	return nil
}
