package policy

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// voipApps are known VoIP and messaging apps that keep network access during a call.
var voipApps = domain.NewAppSet(
	"com.whatsapp",
	"com.facebook.orca",
	"com.skype.raider",
	"com.viber.voip",
	"com.discord",
	"com.microsoft.teams",
	"com.google.android.apps.tachyon",
	"us.zoom.videomeetings",
	"com.snapchat.android",
	"com.instagram.android",
	"com.facebook.katana",
	"com.telegram.messenger",
	"com.tencent.mm",
	"jp.naver.line.android",
	"com.kakao.talk",
	"com.webex.meetings",
	"com.gotomeeting",
	"com.ringcentral.android",
	"com.vonage.business.cloud.messaging",
	"com.google.android.apps.meetings",
)

// callCriticalApps may be involved in a call (stores, downloads, media) and are
// never blocked while one is in progress.
var callCriticalApps = domain.NewAppSet(
	"com.android.vending",
	"com.google.android.packageinstaller",
	"com.android.providers.downloads",
	"com.android.providers.media",
	"com.android.externalstorage",
	"com.android.documentsui",
)

// Name patterns, matched against the lowercased identifier.
const (
	commPattern     = "*{whatsapp,telegram,discord,skype,zoom,teams,voip}*"
	weakCommPattern = "*{meet,chat,message}*"
	phoneNameMarker = "phone"
)

// CommClassifier recognizes communication applications.
type CommClassifier struct {
	voip      domain.AppSet
	strong    glob.Glob
	weak      glob.Glob
	telephony func(string) bool
}

// NewCommClassifier creates a classifier. isTelephony reports telephony and
// dialer services, which are never counted as communication apps.
func NewCommClassifier(isTelephony func(string) bool) *CommClassifier {
	if isTelephony == nil {
		isTelephony = func(string) bool { return false }
	}
	return &CommClassifier{
		voip:      voipApps,
		strong:    glob.MustCompile(commPattern),
		weak:      glob.MustCompile(weakCommPattern),
		telephony: isTelephony,
	}
}

// IsCommunication reports whether pkg is a VoIP or messaging app.
func (c *CommClassifier) IsCommunication(pkg string) bool {
	if c.telephony(pkg) {
		return false
	}
	if c.voip.Has(pkg) {
		return true
	}

	name := strings.ToLower(pkg)
	if c.strong.Match(name) {
		return true
	}
	// "meet", "chat" and "message" also show up in phone apps
	return c.weak.Match(name) && !strings.Contains(name, phoneNameMarker)
}

// IsCallCritical reports whether pkg must stay reachable while a call is active.
func (c *CommClassifier) IsCallCritical(pkg string) bool {
	return callCriticalApps.Has(pkg)
}
