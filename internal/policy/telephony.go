package policy

// TelephonyCatalog protects the telephony, IMS and carrier stack.
type TelephonyCatalog struct{}

// NewTelephonyCatalog creates the telephony stack catalog.
func NewTelephonyCatalog() *TelephonyCatalog {
	return &TelephonyCatalog{}
}

func (c *TelephonyCatalog) ID() string {
	return "telephony"
}

func (c *TelephonyCatalog) Name() string {
	return "Telephony, IMS and carrier services"
}

// Packages returns the telephony services that carry calls and messages.
func (c *TelephonyCatalog) Packages() []string {
	return []string{
		// Core telephony
		"com.android.phone",
		"com.android.server.telecom",
		"com.android.providers.telephony",
		"com.android.incallui",
		"com.android.dialer",
		"com.android.stk",
		"com.android.cellbroadcastreceiver",
		"com.android.emergency",
		"com.android.phone.settings",
		"com.android.server.telephony",
		"com.android.telephony.resources",
		"com.android.calllogbackup",
		"com.android.simappdialog",
		"com.android.telephonymonitor",
		"com.android.carrierconfig",
		"com.android.carrierdefaultapp",
		"com.android.phone.euicc",
		"com.android.euicc",
		"com.android.callcomposer",
		"com.android.telephony",
		"com.android.internal.telephony",

		// IMS and RCS
		"com.android.ims",
		"com.android.ims.rcsservice",
		"com.google.android.ims",
		"com.google.android.rcs",
		"com.samsung.android.ims",
		"com.qualcomm.qti.ims",
		"com.qualcomm.qti.telephonyservice",
		"com.mediatek.ims",
		"org.codeaurora.ims",

		// Carrier
		"com.google.android.carrier",
		"com.google.android.apps.tycho",
		"com.verizon.messaging.vzmsgs",
		"com.att.mobile.android.messaging",
		"com.tmobile.pr.adapt",
		"com.verizon.llkagent",
		"com.att.callprotect",
		"com.tmobile.nameid",
		"com.sprint.care",

		// SMS/MMS
		"com.android.mms",
		"com.android.mms.service",
		"com.google.android.apps.messaging",
		"com.samsung.android.messaging",

		// Contacts used by the in-call UI
		"com.android.providers.contacts",
		"com.android.contacts",
		"com.google.android.contacts",
		"com.samsung.android.contacts",
	}
}

func (c *TelephonyCatalog) Telephony() bool {
	return true
}

// DialerCatalog protects manufacturer dialers and in-call UIs.
type DialerCatalog struct{}

// NewDialerCatalog creates the dialer catalog.
func NewDialerCatalog() *DialerCatalog {
	return &DialerCatalog{}
}

func (c *DialerCatalog) ID() string {
	return "dialer"
}

func (c *DialerCatalog) Name() string {
	return "Phone dialers and in-call UI"
}

// Packages returns vendor dialer apps. Most vendors ship their own.
func (c *DialerCatalog) Packages() []string {
	return []string{
		"com.google.android.dialer",
		"com.google.android.apps.tachyon",
		"com.samsung.android.incallui",
		"com.samsung.android.dialer",
		"com.samsung.android.app.telephonyui",
		"com.miui.incallui",
		"com.miui.dialer",
		"com.oneplus.dialer",
		"com.huawei.contacts",
		"com.coloros.phone",
		"com.asus.contacts",
		"com.lge.phone",
		"com.htc.android.phone",
		"com.oppo.contacts",
		"com.vivo.contacts",
		"com.xiaomi.xmsf",
		"com.realme.dialer",
		"com.nothing.dialer",
	}
}

func (c *DialerCatalog) Telephony() bool {
	return true
}

// Ensure the catalogs implement ProtectedCatalog.
var (
	_ ProtectedCatalog = (*TelephonyCatalog)(nil)
	_ ProtectedCatalog = (*DialerCatalog)(nil)
)
