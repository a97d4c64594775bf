package policy

import "github.com/eliteGoblin/focusd/netgate/internal/domain"

// HomeSurfaces are launchers. A launcher in the foreground means no app is.
var HomeSurfaces = domain.NewAppSet(
	"com.android.launcher",
	"com.google.android.apps.nexuslauncher",
	"com.miui.home",
	"com.sec.android.app.launcher",
	"com.actionlauncher.playstore",
	"com.microsoft.launcher",
	"com.teslacoilsw.launcher",
	"com.lge.launcher2",
	"com.asus.launcher",
	"com.huawei.android.launcher",
	"com.oneplus.launcher",
	"com.nova.launcher",

	// Linux desktop shells
	"gnome-shell",
	"plasmashell",
)

// SystemSurfaces are transient overlays that keep the previous foreground app.
var SystemSurfaces = domain.NewAppSet(
	"com.android.systemui",
	"android",
	"com.android.settings",
	"com.android.keyguard",

	"Xorg",
	"Xwayland",
)
