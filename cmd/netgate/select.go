package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/netgate/internal/config"
	"github.com/eliteGoblin/focusd/netgate/internal/domain"
	"github.com/eliteGoblin/focusd/netgate/internal/infra"
	"github.com/eliteGoblin/focusd/netgate/internal/policy"
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Manage the set of controlled applications",
	Long: `Selected applications only have network access while they are in the
foreground. Protected services can never be selected.`,
}

var selectAddCmd = &cobra.Command{
	Use:   "add <app>...",
	Short: "Add applications to the selection",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSelectAdd,
}

var selectRemoveCmd = &cobra.Command{
	Use:   "remove <app>...",
	Short: "Remove applications from the selection",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSelectRemove,
}

var selectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List selected applications",
	Args:  cobra.NoArgs,
	RunE:  runSelectList,
}

var selectPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove protected services from the persisted selection",
	Long: `The engine never blocks protected services, even when they are selected.
prune removes such entries from the stored selection for good.`,
	Args: cobra.NoArgs,
	RunE: runSelectPrune,
}

var callCmd = &cobra.Command{
	Use:   "call <ringing|offhook|idle>",
	Short: "Report a telephony state change to the engine",
	Long: `Feeds the engine's telephony signal. Hook this into whatever observes calls
on the host (softphone events, modem manager, ...).`,
	ValidArgs: []string{"ringing", "offhook", "idle"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE:      runCall,
}

func init() {
	selectCmd.AddCommand(selectAddCmd)
	selectCmd.AddCommand(selectRemoveCmd)
	selectCmd.AddCommand(selectListCmd)
	selectCmd.AddCommand(selectPruneCmd)
}

// cliEnv bundles what the foreground commands need.
type cliEnv struct {
	mode     *infra.ExecModeConfig
	store    *infra.EncryptedStore
	registry *policy.Registry
	logger   *zap.Logger
}

func openEnv() (*cliEnv, error) {
	mode := execMode()
	logger, _ := zap.NewDevelopment()

	cfgManager := config.NewManager(mode.ConfigPath())
	if err := cfgManager.Load(); err != nil {
		logger.Warn("using default config", zap.Error(err))
	}
	cfg := cfgManager.Get()

	key, err := infra.EnsureKey(infra.KeyProviderFor(mode))
	if err != nil {
		return nil, fmt.Errorf("failed to load store key: %w", err)
	}
	store, err := infra.NewEncryptedStore(mode.StorePath(), key)
	if err != nil {
		return nil, err
	}

	registryConfig := policy.DefaultRegistryConfig(cfg.Protection.Self)
	registryConfig.SystemUIDThreshold = cfg.Protection.SystemUIDThreshold
	catalog := infra.NewProcessCatalog(cfg.Protection.SystemUIDThreshold)

	return &cliEnv{
		mode:     mode,
		store:    store,
		registry: policy.NewRegistry(registryConfig, catalog, logger),
		logger:   logger,
	}, nil
}

func (e *cliEnv) Close() {
	_ = e.store.Close()
	_ = e.logger.Sync()
}

// notifyDaemon tells a running engine to re-read the selection.
func (e *cliEnv) notifyDaemon() {
	pm := infra.NewProcessManager()
	st, err := infra.NewStatusFile(e.mode.StatusPath(), pm).Live()
	if errors.Is(err, domain.ErrNotRunning) {
		return
	}
	if err != nil {
		e.logger.Warn("failed to read engine status", zap.Error(err))
		return
	}
	if err := pm.Notify(st.PID); err != nil {
		// the periodic refresh picks the change up anyway
		e.logger.Warn("failed to notify engine", zap.Int("pid", st.PID), zap.Error(err))
	}
}

func runSelectAdd(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	changed := false
	for _, app := range args {
		if env.registry.IsProtected(ctx, app) {
			fmt.Printf("skipped %s: protected service\n", app)
			continue
		}
		if err := env.store.AddSelected(app); err != nil {
			return fmt.Errorf("failed to add %s: %w", app, err)
		}
		fmt.Printf("selected %s\n", app)
		changed = true
	}
	if changed {
		env.notifyDaemon()
	}
	return nil
}

func runSelectRemove(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	for _, app := range args {
		if err := env.store.RemoveSelected(app); err != nil {
			return fmt.Errorf("failed to remove %s: %w", app, err)
		}
		fmt.Printf("removed %s\n", app)
	}
	env.notifyDaemon()
	return nil
}

func runSelectList(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	selection, err := env.store.Selection()
	if err != nil {
		return err
	}

	fmt.Println("\n=== Selected Applications ===")
	if selection.Len() == 0 {
		fmt.Println("(none)")
	}
	ctx := context.Background()
	for _, app := range selection.Sorted() {
		if env.registry.IsProtected(ctx, app) {
			fmt.Printf("  - %s (protected, never blocked)\n", app)
			continue
		}
		fmt.Printf("  - %s\n", app)
	}
	fmt.Println("=============================")
	return nil
}

func runSelectPrune(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	selection, err := env.store.Selection()
	if err != nil {
		return err
	}

	protected := domain.NewAppSet()
	ctx := context.Background()
	for _, app := range selection.Sorted() {
		if env.registry.IsProtected(ctx, app) {
			protected.Add(app)
		}
	}
	safe, removed := policy.StripProtected(selection, protected)
	if removed.Len() == 0 {
		fmt.Println("nothing to prune")
		return nil
	}
	if err := env.store.ReplaceSelection(safe); err != nil {
		return err
	}
	for _, app := range removed.Sorted() {
		fmt.Printf("pruned %s\n", app)
	}
	env.notifyDaemon()
	return nil
}

func runProtected(cmd *cobra.Command, args []string) error {
	registry := policy.NewRegistry(policy.DefaultRegistryConfig(config.DefaultConfig().Protection.Self), nil, zap.NewNop())

	fmt.Println("\n=== Protected Services ===")
	for _, c := range registry.GetAll() {
		kind := ""
		if c.Telephony() {
			kind = " (telephony)"
		}
		fmt.Printf("\n[%s] %s%s\n", c.ID(), c.Name(), kind)
		for _, pkg := range c.Packages() {
			fmt.Printf("  - %s\n", pkg)
		}
	}
	fmt.Printf("\nAlso protected: the engine itself and every app with uid below %d.\n",
		registry.SystemUIDRange().End+1)
	fmt.Println("==========================")
	return nil
}

func runCall(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	state := domain.ParseTelephonyState(args[0])
	if err := env.store.SetCallState(state); err != nil {
		return fmt.Errorf("failed to record call state: %w", err)
	}
	fmt.Printf("call state: %s\n", state)
	return nil
}
