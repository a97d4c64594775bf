package policy

// ConnectivityCatalog protects network infrastructure services.
type ConnectivityCatalog struct{}

// NewConnectivityCatalog creates the connectivity catalog.
func NewConnectivityCatalog() *ConnectivityCatalog {
	return &ConnectivityCatalog{}
}

func (c *ConnectivityCatalog) ID() string {
	return "connectivity"
}

func (c *ConnectivityCatalog) Name() string {
	return "Network stack and radios"
}

func (c *ConnectivityCatalog) Packages() []string {
	return []string{
		"com.android.networkstack",
		"com.android.networkstack.tethering",
		"com.android.networkstack.permissionconfig",
		"com.android.connectivity.resources",
		"com.android.captiveportallogin",
		"com.android.bluetooth",
		"com.android.nfc",
		"com.android.server.wifi",
		"com.android.wifi",

		// Linux host equivalents
		"NetworkManager",
		"systemd-networkd",
		"systemd-resolved",
		"wpa_supplicant",
		"dhclient",
		"ModemManager",
		"bluetoothd",
	}
}

func (c *ConnectivityCatalog) Telephony() bool {
	return false
}

// CoreSystemCatalog protects the OS core and the services that route calls.
type CoreSystemCatalog struct{}

// NewCoreSystemCatalog creates the core system catalog.
func NewCoreSystemCatalog() *CoreSystemCatalog {
	return &CoreSystemCatalog{}
}

func (c *CoreSystemCatalog) ID() string {
	return "system"
}

func (c *CoreSystemCatalog) Name() string {
	return "Core OS services"
}

func (c *CoreSystemCatalog) Packages() []string {
	return []string{
		"android",
		"system",
		"com.android.systemui",
		"com.android.shell",
		"com.android.server",
		"com.android.providers.settings",
		"com.android.settings",
		"com.android.keyguard",
		"com.android.location",
		"com.android.vending",

		// Google Play services route call signalling on many devices
		"com.google.android.gms",
		"com.google.android.gsf",

		// Linux host equivalents
		"systemd",
		"init",
		"sshd",
		"chronyd",
		"systemd-timesyncd",
	}
}

func (c *CoreSystemCatalog) Telephony() bool {
	return false
}

var (
	_ ProtectedCatalog = (*ConnectivityCatalog)(nil)
	_ ProtectedCatalog = (*CoreSystemCatalog)(nil)
)
