package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nomo/internal/experience"
	"nomo/internal/focus"
	"nomo/internal/shop"
	"nomo/internal/streak"
)

func registerCommands(root *cobra.Command) {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show coins, level, streak and sync state",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	creditCmd := &cobra.Command{
		Use:   "credit [amount]",
		Short: "Add coins to the balance",
		Args:  cobra.ExactArgs(1),
		RunE:  runCredit,
	}
	creditCmd.Flags().String("reason", "manual", "Reason recorded with the credit")

	debitCmd := &cobra.Command{
		Use:   "debit [amount]",
		Short: "Spend coins; fails without change when the balance is too low",
		Args:  cobra.ExactArgs(1),
		RunE:  runDebit,
	}
	debitCmd.Flags().String("reason", "manual", "Reason recorded with the debit")

	xpCmd := &cobra.Command{
		Use:   "xp [amount]",
		Short: "Award experience (or adjust it with --adjust)",
		Args:  cobra.ExactArgs(1),
		RunE:  runXP,
	}
	xpCmd.Flags().Bool("adjust", false, "Administrative adjustment; accepts negative values")

	zoneCmd := &cobra.Command{
		Use:   "zone [id]",
		Short: "Switch to an unlocked zone",
		Args:  cobra.ExactArgs(1),
		RunE:  runZone,
	}

	buyCmd := &cobra.Command{
		Use:   "buy [item]",
		Short: "Buy an item from the shop",
		Args:  cobra.ExactArgs(1),
		RunE:  runBuy,
	}

	equipCmd := &cobra.Command{
		Use:   "equip [item]",
		Short: "Wear an owned cosmetic",
		Args:  cobra.ExactArgs(1),
		RunE:  runEquip,
	}

	unequipCmd := &cobra.Command{
		Use:   "unequip",
		Short: "Take off the worn cosmetic",
		Args:  cobra.NoArgs,
		RunE:  runUnequip,
	}

	sessionCmd := &cobra.Command{
		Use:   "session [minutes]",
		Short: "Record a completed focus session",
		Long: `Applies one focus session sample: the streak is updated for the day
the session completed, then coins, experience and any milestone reward are
granted.`,
		Args: cobra.ExactArgs(1),
		RunE: runSession,
	}
	sessionCmd.Flags().String("at", "", "Completion time (RFC 3339, default: now)")

	streakCmd := &cobra.Command{
		Use:   "streak",
		Short: "Show the daily streak",
		Args:  cobra.NoArgs,
		RunE:  runStreak,
	}
	streakCheckCmd := &cobra.Command{
		Use:   "check",
		Short: "Re-evaluate the streak against today, spending a freeze if one bridges the gap",
		Args:  cobra.NoArgs,
		RunE:  runStreakCheck,
	}
	streakCmd.AddCommand(streakCheckCmd)

	freezeCmd := &cobra.Command{
		Use:   "freeze",
		Short: "Show streak freezes (or spend one with --use)",
		Args:  cobra.NoArgs,
		RunE:  runFreeze,
	}
	freezeCmd.Flags().Bool("use", false, "Spend one freeze")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Settle queued operations with the server now",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}
	syncCmd.Flags().Bool("force", false, "Ignore retry backoff windows")

	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "List operations waiting for settlement",
		Args:  cobra.NoArgs,
		RunE:  runQueue,
	}

	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "List shop items",
		Args:  cobra.NoArgs,
		RunE:  runCatalog,
	}
	catalogCmd.Flags().String("category", "", "Only show one category (character, cosmetic, bundle, consumable)")

	achievementsCmd := &cobra.Command{
		Use:   "achievements",
		Short: "List achievements and progress",
		Args:  cobra.NoArgs,
		RunE:  runAchievements,
	}

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Keep syncing in the background until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runDaemon,
	}
	daemonCmd.Flags().String("metrics-addr", "", "Serve sync queue metrics on this address (e.g. :9464)")

	root.AddCommand(statusCmd, creditCmd, debitCmd, xpCmd, zoneCmd, buyCmd, equipCmd, unequipCmd,
		sessionCmd, streakCmd, freezeCmd, syncCmd, queueCmd, catalogCmd, achievementsCmd, daemonCmd)
}

// parseAmount accepts whole, non-negative numbers only.
func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("amount must be a whole number >= 0, got %q", s)
	}
	return n, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), renderStatus(eng.Status()))
	return nil
}

func runCredit(cmd *cobra.Command, args []string) error {
	amount, err := parseAmount(args[0])
	if err != nil {
		return err
	}
	reason, _ := cmd.Flags().GetString("reason")
	eng.Currency.CreditFor(amount, reason)
	fmt.Fprintf(cmd.OutOrStdout(), "Balance: %s\n", ui.Coins.Render(strconv.FormatInt(eng.Currency.Balance(), 10)))
	return nil
}

func runDebit(cmd *cobra.Command, args []string) error {
	amount, err := parseAmount(args[0])
	if err != nil {
		return err
	}
	reason, _ := cmd.Flags().GetString("reason")
	if !eng.Currency.DebitFor(amount, reason) {
		return fmt.Errorf("cannot spend %d coins (balance %d)", amount, eng.Currency.Balance())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Balance: %s\n", ui.Coins.Render(strconv.FormatInt(eng.Currency.Balance(), 10)))
	return nil
}

func runXP(cmd *cobra.Command, args []string) error {
	adjust, _ := cmd.Flags().GetBool("adjust")
	var (
		delta int64
		err   error
	)
	if adjust {
		delta, err = strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("adjustment must be a whole number, got %q", args[0])
		}
	} else if delta, err = parseAmount(args[0]); err != nil {
		return err
	}

	var change experience.LevelChange
	if adjust {
		change = eng.Experience.AdjustXP(delta)
	} else {
		change = eng.Experience.AddXP(delta)
	}
	out := cmd.OutOrStdout()
	st := eng.Experience.State()
	fmt.Fprintf(out, "XP: %d  Level: %d\n", st.CurrentXP, st.CurrentLevel)
	if change.LeveledUp() {
		fmt.Fprintln(out, ui.Success.Render(fmt.Sprintf("Level up! %d -> %d", change.From, change.To)))
	}
	for _, id := range change.Entities {
		fmt.Fprintf(out, "Unlocked %s\n", id)
	}
	for _, id := range change.Zones {
		fmt.Fprintf(out, "New zone: %s\n", id)
	}
	return nil
}

func runZone(cmd *cobra.Command, args []string) error {
	if !eng.Experience.SwitchZone(args[0]) {
		return fmt.Errorf("zone %q is not unlocked", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Now in %s\n", args[0])
	return nil
}

func runBuy(cmd *cobra.Command, args []string) error {
	receipt, err := eng.Shop.Buy(args[0])
	if err != nil {
		logger.Debug("Purchase failed", zap.String("item", args[0]), zap.Error(err))
		return errors.New(shop.Message(err))
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Bought %s for %s coins\n", receipt.ItemID, ui.Coins.Render(strconv.FormatInt(receipt.Price, 10)))
	if len(receipt.Granted) > 1 || (len(receipt.Granted) == 1 && receipt.Granted[0] != receipt.ItemID) {
		fmt.Fprintf(out, "Received: %v\n", receipt.Granted)
	}
	fmt.Fprintf(out, "Balance: %d\n", eng.Currency.Balance())
	return nil
}

func runEquip(cmd *cobra.Command, args []string) error {
	if err := eng.Shop.Equip(args[0]); err != nil {
		return errors.New(shop.Message(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wearing %s\n", args[0])
	return nil
}

func runUnequip(cmd *cobra.Command, args []string) error {
	eng.Shop.Unequip()
	fmt.Fprintln(cmd.OutOrStdout(), "Wearing nothing")
	return nil
}

func runSession(cmd *cobra.Command, args []string) error {
	minutes, err := parseAmount(args[0])
	if err != nil {
		return err
	}
	at := time.Now()
	if s, _ := cmd.Flags().GetString("at"); s != "" {
		if at, err = time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
	}

	res, err := eng.Focus.Process(focus.Sample{SessionMinutes: minutes, CompletedAt: at})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if res.Ignored {
		fmt.Fprintf(out, "Session too short (%d min), nothing earned\n", res.Minutes)
		return nil
	}
	fmt.Fprintf(out, "+%s coins  +%d xp  streak %d\n",
		ui.Coins.Render(strconv.FormatInt(res.Coins, 10)), res.XP, res.Session.Streak)
	if m := res.Session.Milestone; m != nil {
		fmt.Fprintln(out, ui.Success.Render(fmt.Sprintf("%d-day milestone reached!", m.Days)))
	}
	if res.Level.LeveledUp() {
		fmt.Fprintln(out, ui.Success.Render(fmt.Sprintf("Level up! %d -> %d", res.Level.From, res.Level.To)))
	}
	return nil
}

func runStreak(cmd *cobra.Command, args []string) error {
	st := eng.Streak.State()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, row("Current", fmt.Sprintf("%d days", st.CurrentStreak)))
	fmt.Fprintln(out, row("Longest", fmt.Sprintf("%d days", st.LongestStreak)))
	last := st.LastSessionDate
	if last == "" {
		last = "never"
	}
	fmt.Fprintln(out, row("Last session", last))
	fmt.Fprintln(out, row("Sessions", strconv.Itoa(st.TotalSessions)))
	fmt.Fprintln(out, row("Freezes", strconv.Itoa(st.FreezeCount)))
	if m, ok := eng.Streak.NextMilestone(); ok {
		fmt.Fprintln(out, row("Next reward", fmt.Sprintf("%d days (%d coins)", m.Days, m.Coins)))
	}
	return nil
}

func runStreakCheck(cmd *cobra.Command, args []string) error {
	tr := eng.Streak.CheckValidity()
	out := cmd.OutOrStdout()
	switch tr {
	case streak.FreezeUsed:
		fmt.Fprintln(out, ui.Warning.Render("A freeze saved your streak"))
	case streak.Broken:
		fmt.Fprintln(out, ui.Error.Render("Streak lost"))
	default:
		fmt.Fprintln(out, "Streak intact")
	}
	fmt.Fprintf(out, "Current streak: %d days\n", eng.Streak.State().CurrentStreak)
	return nil
}

func runFreeze(cmd *cobra.Command, args []string) error {
	if use, _ := cmd.Flags().GetBool("use"); use && !eng.Streak.UseFreeze() {
		return errors.New("no freezes left")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Freezes: %d\n", eng.Streak.State().FreezeCount)
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(timeout)
	defer cancel()

	force, _ := cmd.Flags().GetBool("force")
	report := eng.Sync(ctx, force)
	out := cmd.OutOrStdout()
	if report.Skipped != "" {
		fmt.Fprintf(out, "Sync skipped: %s (%d pending)\n", report.Skipped, eng.Queue.Len())
		return nil
	}
	fmt.Fprintf(out, "Synced %d, retrying %d, failed %d, waiting %d\n",
		report.Synced, report.Retried, report.Purged, report.Deferred)
	logger.Info("Sync finished",
		zap.Int("attempts", report.Attempts),
		zap.Int("synced", report.Synced),
		zap.Int("purged", report.Purged))
	return nil
}

func runQueue(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	entries := eng.Queue.Entries()
	stats := eng.Queue.Stats()
	if len(entries) == 0 {
		fmt.Fprintf(out, "Nothing pending (synced %d, failed %d)\n", stats.TotalSynced, stats.TotalFailed)
		return nil
	}
	t := newTable("ID", "KIND", "CREATED", "RETRIES", "LAST ERROR")
	for _, e := range entries {
		t.add(shortID(e.ID), string(e.Kind), e.CreatedAt.Local().Format("Jan 2 15:04:05"),
			strconv.Itoa(e.RetryCount), e.LastError)
	}
	fmt.Fprint(out, t.String())
	fmt.Fprintf(out, "%d pending, synced %d, failed %d\n", stats.Pending, stats.TotalSynced, stats.TotalFailed)
	return nil
}

func runCatalog(cmd *cobra.Command, args []string) error {
	category, _ := cmd.Flags().GetString("category")
	categories := []shop.Category{shop.CategoryCharacter, shop.CategoryCosmetic, shop.CategoryBundle, shop.CategoryConsumable}
	if category != "" {
		categories = []shop.Category{shop.Category(category)}
	}

	t := newTable("ITEM", "NAME", "CATEGORY", "PRICE", "")
	for _, c := range categories {
		for _, it := range eng.Shop.Catalog().ByCategory(c) {
			note := ""
			switch {
			case eng.Shop.Owns(it.ID):
				note = ui.Success.Render("owned")
			case it.Category == shop.CategoryCharacter && !it.Exclusive:
				note = ui.Muted.Render("level reward")
			case !eng.Currency.CanAfford(it.Price):
				note = ui.Muted.Render("need more coins")
			}
			t.add(it.ID, it.Name, string(it.Category), strconv.FormatInt(it.Price, 10), note)
		}
	}
	fmt.Fprint(cmd.OutOrStdout(), t.String())
	return nil
}

func runAchievements(cmd *cobra.Command, args []string) error {
	statuses := eng.Achievements.Statuses()
	t := newTable("", "ACHIEVEMENT", "GOAL", "PROGRESS")
	for _, s := range statuses {
		mark := " "
		if s.Unlocked {
			mark = ui.Success.Render("✓")
		}
		progress := fmt.Sprintf("%d/%d", min(s.Progress, s.Definition.Threshold), s.Definition.Threshold)
		t.add(mark, s.Definition.Name, fmt.Sprintf("%s %d", s.Definition.Metric, s.Definition.Threshold), progress)
	}
	fmt.Fprint(cmd.OutOrStdout(), t.String())
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(0)
	defer cancel()

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(eng.Metrics.Registry(), promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("Serving metrics", zap.String("addr", addr))
	}

	logger.Info("Daemon running", zap.Int("pending", eng.Queue.Len()))
	if err := eng.Run(ctx); err != nil {
		return err
	}
	logger.Info("Daemon stopped")
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
