package wap

import "encoding/base64"

// Field numbers below are fixed by the wire protocol this client speaks to
// and are not ours to choose; they follow spec §6's ClientPayload field
// list in declaration order.
const (
	fieldUsername      = 1
	fieldPassive       = 2
	fieldUserAgent     = 3
	fieldWebInfo       = 4
	fieldConnectType   = 32
	fieldConnectReason = 33
	fieldDevice        = 21
	fieldRegData       = 19

	fieldUAPlatform       = 1
	fieldUAAppVersion     = 2
	fieldUAMcc            = 3
	fieldUAMnc            = 4
	fieldUAOSVersion      = 5
	fieldUADevice         = 7
	fieldUAOSBuild        = 8
	fieldUALocaleLang     = 10
	fieldUALocaleCountry  = 11
	fieldUAReleaseChannel = 12
	fieldUAManufacturer   = 19

	fieldAppVersionPrimary   = 1
	fieldAppVersionSecondary = 2
	fieldAppVersionTertiary  = 3

	fieldWebInfoSubPlatform = 1

	fieldRegBuildHash   = 6
	fieldRegCompanion   = 7
	fieldRegID          = 8
	fieldRegType        = 9
	fieldRegIdentifier  = 10
	fieldRegSignatureID = 11
	fieldRegSigPubKey   = 12
	fieldRegSignature   = 13
)

// Platform and ReleaseChannel are fixed to the WEB desktop client's values
// throughout this device's identity.
const (
	PlatformWeb            = 1
	ReleaseChannelRelease  = 0
	SubPlatformWebBrowser  = 1
	KeyTypeCurve25519      = 5
)

// AppVersion is the three-component client version advertised to the
// relay; spec §6 fixes it to (2, 2144, 11) for this client.
type AppVersion struct {
	Primary, Secondary, Tertiary uint32
}

func (v AppVersion) MarshalBinary() []byte {
	w := &protoWriter{}
	w.Uint32Field(fieldAppVersionPrimary, v.Primary)
	w.Uint32Field(fieldAppVersionSecondary, v.Secondary)
	w.Uint32Field(fieldAppVersionTertiary, v.Tertiary)
	return w.Bytes()
}

// UserAgent advertises this device's platform identity. DefaultUserAgent
// returns the fixed values spec §6 mandates for a WEB companion client.
type UserAgent struct {
	Platform                    uint32
	AppVersion                  AppVersion
	Mcc                         string
	Mnc                         string
	OSVersion                   string
	Device                      string
	OSBuildNumber               string
	LocaleLanguageISO6391       string
	LocaleCountryISO31661Alpha2 string
	ReleaseChannel              uint32
	Manufacturer                string
}

func DefaultUserAgent() UserAgent {
	return UserAgent{
		Platform:                    PlatformWeb,
		AppVersion:                  AppVersion{Primary: 2, Secondary: 2144, Tertiary: 11},
		Mcc:                         "000",
		Mnc:                         "000",
		OSVersion:                   "0.1",
		Device:                      "Desktop",
		OSBuildNumber:               "0.1",
		LocaleLanguageISO6391:       "en",
		LocaleCountryISO31661Alpha2: "en",
		ReleaseChannel:              ReleaseChannelRelease,
		Manufacturer:                "",
	}
}

func (u UserAgent) MarshalBinary() []byte {
	w := &protoWriter{}
	w.Uint32Field(fieldUAPlatform, u.Platform)
	w.MessageField(fieldUAAppVersion, u.AppVersion.MarshalBinary())
	w.StringField(fieldUAMcc, u.Mcc)
	w.StringField(fieldUAMnc, u.Mnc)
	w.StringField(fieldUAOSVersion, u.OSVersion)
	w.StringField(fieldUADevice, u.Device)
	w.StringField(fieldUAOSBuild, u.OSBuildNumber)
	w.StringField(fieldUALocaleLang, u.LocaleLanguageISO6391)
	w.StringField(fieldUALocaleCountry, u.LocaleCountryISO31661Alpha2)
	w.Uint32Field(fieldUAReleaseChannel, u.ReleaseChannel)
	w.StringField(fieldUAManufacturer, u.Manufacturer)
	return w.Bytes()
}

// WebInfo carries the browser-companion sub-platform marker.
type WebInfo struct {
	SubPlatform uint32
}

func DefaultWebInfo() WebInfo {
	return WebInfo{SubPlatform: SubPlatformWebBrowser}
}

func (wi WebInfo) MarshalBinary() []byte {
	w := &protoWriter{}
	w.Uint32Field(fieldWebInfoSubPlatform, wi.SubPlatform)
	return w.Bytes()
}

// CompanionProps is an opaque, already-serialized companion properties
// blob (device name, platform metadata); its internal shape is out of
// scope per spec's non-goals on the public API surface, so it is carried
// here as raw bytes rather than a structured message.
type CompanionProps struct {
	Raw []byte
}

// RegData is the CompanionData payload sent on first registration,
// carrying this device's identity and signed pre-key (spec §6).
type RegData struct {
	BuildHash          [16]byte
	Companion          CompanionProps
	RegistrationID     uint32
	KeyType            uint32
	Identifier         [32]byte
	SignedPreKeyID     uint32
	SignedPreKeyPublic [32]byte
	SignedPreKeySig    []byte
}

func (r RegData) MarshalBinary() []byte {
	w := &protoWriter{}
	w.BytesField(fieldRegBuildHash, r.BuildHash[:])
	w.BytesField(fieldRegCompanion, r.Companion.Raw)
	w.Uint32Field(fieldRegID, r.RegistrationID)
	w.Uint32Field(fieldRegType, r.KeyType)
	w.BytesField(fieldRegIdentifier, r.Identifier[:])
	w.Uint32Field(fieldRegSignatureID, r.SignedPreKeyID)
	w.BytesField(fieldRegSigPubKey, r.SignedPreKeyPublic[:])
	w.BytesField(fieldRegSignature, r.SignedPreKeySig)
	return w.Bytes()
}

// DefaultBuildHash decodes the fixed base64 build hash spec §6 specifies
// for this client's RegData.
func DefaultBuildHash() [16]byte {
	const encoded = "S9Kdc4pc4EJryo21snc5cg=="
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		panic("wap: malformed built-in build hash constant: " + err.Error())
	}
	var out [16]byte
	copy(out[:], decoded)
	return out
}

// ClientPayload is the message encrypted as the Noise ClientFinish
// payload, and also (opaquely, via ServerHello) what the server payload
// mirrors in structure.
type ClientPayload struct {
	Username      uint64
	Passive       bool
	UserAgent     UserAgent
	WebInfo       WebInfo
	ConnectType   uint32
	ConnectReason uint32
	Device        *uint32
	RegData       *RegData
}

func (c ClientPayload) MarshalBinary() []byte {
	w := &protoWriter{}
	w.Uint64Field(fieldUsername, c.Username)
	w.BoolField(fieldPassive, c.Passive)
	w.MessageField(fieldUserAgent, c.UserAgent.MarshalBinary())
	w.MessageField(fieldWebInfo, c.WebInfo.MarshalBinary())
	w.Uint32Field(fieldConnectType, c.ConnectType)
	w.Uint32Field(fieldConnectReason, c.ConnectReason)
	if c.Device != nil {
		w.Uint32Field(fieldDevice, *c.Device)
	}
	if c.RegData != nil {
		w.MessageField(fieldRegData, c.RegData.MarshalBinary())
	}
	return w.Bytes()
}
