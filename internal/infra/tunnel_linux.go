//go:build linux

package infra

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.zx2c4.com/wireguard/tun"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

const (
	tunOffsetBytes = 16
	readTimeoutMs  = 100
)

// LinuxInterceptor implements domain.Interceptor with a TUN device and
// uid-range policy routing. Traffic of every uid not excluded is routed into
// the device, where the drain task discards it.
type LinuxInterceptor struct {
	config  InterceptorConfig
	catalog domain.AppCatalog
	logger  *zap.Logger
}

// NewLinuxInterceptor creates an interceptor resolving app uids with catalog.
func NewLinuxInterceptor(config InterceptorConfig, catalog domain.AppCatalog, logger *zap.Logger) *LinuxInterceptor {
	return &LinuxInterceptor{
		config:  config,
		catalog: catalog,
		logger:  logger,
	}
}

// Establish creates the device and, when routing is requested, the rules and
// route that capture non-excluded traffic.
func (i *LinuxInterceptor) Establish(ctx context.Context, cfg domain.InterceptConfig) (domain.TunnelHandle, error) {
	dev, err := tun.CreateTUN(i.config.Device, cfg.MTU)
	if err != nil {
		return nil, fmt.Errorf("create tun %s: %w", i.config.Device, err)
	}

	h := &linuxHandle{
		dev:      dev,
		excluded: domain.NewAppSet(),
		logger:   i.logger,
	}
	h.bufs = make([][]byte, dev.BatchSize())
	h.sizes = make([]int, dev.BatchSize())
	for n := range h.bufs {
		h.bufs[n] = make([]byte, tunOffsetBytes+math.MaxUint16)
	}

	link, err := i.configureLink(cfg.Address)
	if err != nil {
		h.Close()
		return nil, err
	}

	uids, unknown := resolveUIDs(ctx, i.catalog, cfg.ExcludedApps, i.logger)
	// no traffic identity on this host, nothing to intercept
	for app := range unknown {
		h.excluded.Add(app)
	}

	if !cfg.Route {
		// pass-through: nothing is routed into the device
		for app := range uids {
			h.excluded.Add(app)
		}
		return h, nil
	}

	failed := make(map[uint32]bool)
	for _, plan := range planRules(i.config, uids, cfg.ExcludedUIDs) {
		rule := netlink.NewRule()
		rule.Table = plan.Table
		rule.Priority = plan.Priority
		rule.Family = unix.AF_INET
		rule.UIDRange = netlink.NewRuleUIDRange(plan.Start, plan.End)
		if err := netlink.RuleAdd(rule); err != nil {
			if plan.Table == i.config.Table {
				h.Close()
				return nil, fmt.Errorf("add capture rule: %w", err)
			}
			i.logger.Warn("failed to add exclusion rule",
				zap.Uint32("uid_start", plan.Start),
				zap.Uint32("uid_end", plan.End),
				zap.Error(err))
			if plan.Start == plan.End {
				failed[plan.Start] = true
			}
			continue
		}
		h.rules = append(h.rules, rule)
	}
	for app, uid := range uids {
		if !failed[uid] {
			h.excluded.Add(app)
		}
	}

	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Dst:       &net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)},
		Table:     i.config.Table,
	}
	if err := netlink.RouteReplace(route); err != nil {
		h.Close()
		return nil, fmt.Errorf("add default route to table %d: %w", i.config.Table, err)
	}
	h.route = route
	h.routing = true

	i.logger.Info("interception device up",
		zap.String("device", i.config.Device),
		zap.String("session", cfg.Session),
		zap.Int("rules", len(h.rules)),
		zap.Int("excluded", h.excluded.Len()))
	return h, nil
}

func (i *LinuxInterceptor) configureLink(addr netip.Prefix) (netlink.Link, error) {
	link, err := netlink.LinkByName(i.config.Device)
	if err != nil {
		return nil, fmt.Errorf("find link %s: %w", i.config.Device, err)
	}
	if addr.IsValid() {
		if err := netlink.AddrAdd(link, &netlink.Addr{
			IPNet: &net.IPNet{
				IP:   addr.Addr().AsSlice(),
				Mask: net.CIDRMask(addr.Bits(), addr.Addr().BitLen()),
			},
		}); err != nil && !errors.Is(err, unix.EEXIST) {
			return nil, fmt.Errorf("add address %s: %w", addr, err)
		}
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return nil, fmt.Errorf("set %s up: %w", i.config.Device, err)
	}
	return link, nil
}

// linuxHandle is one TUN device plus the routing state installed for it.
type linuxHandle struct {
	dev      tun.Device
	rules    []*netlink.Rule
	route    *netlink.Route
	routing  bool
	excluded domain.AppSet
	logger   *zap.Logger

	readMu  sync.Mutex
	bufs    [][]byte
	sizes   []int
	pending int // packets read but not yet returned
	next    int

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Read returns one packet. It waits at most readTimeoutMs for the device to
// become readable and returns (0, nil) when nothing arrived.
func (h *linuxHandle) Read(buf []byte) (int, error) {
	h.readMu.Lock()
	defer h.readMu.Unlock()

	if h.closed.Load() {
		return 0, domain.ErrStreamClosed
	}
	if h.next < h.pending {
		return h.take(buf), nil
	}

	ready, err := h.wait()
	if err != nil || !ready {
		return 0, err
	}

	n, err := h.dev.Read(h.bufs, h.sizes, tunOffsetBytes)
	if err != nil {
		if h.closed.Load() {
			return 0, domain.ErrStreamClosed
		}
		return 0, err
	}
	h.pending, h.next = n, 0
	if n == 0 {
		return 0, nil
	}
	return h.take(buf), nil
}

func (h *linuxHandle) take(buf []byte) int {
	i := h.next
	h.next++
	if h.sizes[i] <= 0 {
		return 0
	}
	return copy(buf, h.bufs[i][tunOffsetBytes:tunOffsetBytes+h.sizes[i]])
}

// wait polls the device file descriptor for readability.
func (h *linuxHandle) wait() (bool, error) {
	raw, err := h.dev.File().SyscallConn()
	if err != nil {
		return false, domain.ErrStreamClosed
	}

	var (
		revents int16
		pollErr error
	)
	ctrlErr := raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			_, pollErr = unix.Poll(fds, readTimeoutMs)
			if pollErr != unix.EINTR {
				break
			}
		}
		revents = fds[0].Revents
	})
	if ctrlErr != nil || h.closed.Load() {
		return false, domain.ErrStreamClosed
	}
	if pollErr != nil {
		return false, pollErr
	}
	if revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		return false, domain.ErrStreamClosed
	}
	return revents&unix.POLLIN != 0, nil
}

func (h *linuxHandle) Valid() bool {
	return !h.closed.Load()
}

func (h *linuxHandle) Excluded() domain.AppSet {
	return h.excluded.Clone()
}

func (h *linuxHandle) Routing() bool {
	return h.routing
}

// Close removes the rules and route, then closes the device.
func (h *linuxHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)

		var errs []error
		for _, rule := range h.rules {
			if err := netlink.RuleDel(rule); err != nil {
				errs = append(errs, fmt.Errorf("delete rule: %w", err))
			}
		}
		if h.route != nil {
			if err := netlink.RouteDel(h.route); err != nil {
				errs = append(errs, fmt.Errorf("delete route: %w", err))
			}
		}
		if err := h.dev.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close device: %w", err))
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}

var (
	_ domain.Interceptor  = (*LinuxInterceptor)(nil)
	_ domain.TunnelHandle = (*linuxHandle)(nil)
)
