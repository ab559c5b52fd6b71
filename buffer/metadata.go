package buffer

import (
	"os"
	"runtime"

	"meeting-telemetry/ingestion/config"
	"meeting-telemetry/ingestion/event"
)

// Root metadata keys sent once per record.
const (
	MetaSDKName    = "sdkName"
	MetaSDKVersion = "sdkVersion"
	MetaOSName     = "osName"
	MetaOSArch     = "osArch"
	MetaDeviceName = "deviceName"
)

// RootMetadata describes the reporting client.
func RootMetadata(c config.ClientConfig) event.Attributes {
	attrs := event.NewAttributes(
		MetaSDKName, event.String(c.SDKName),
		MetaSDKVersion, event.String(c.SDKVersion),
		MetaOSName, event.String(runtime.GOOS),
		MetaOSArch, event.String(runtime.GOARCH),
	)
	if host, err := os.Hostname(); err == nil && host != "" {
		attrs.Set(MetaDeviceName, event.String(host))
	}
	return attrs
}

// NewConverter groups events by meeting and hoists the meeting and
// attendee ids into each group's metadata.
func NewConverter(c config.ClientConfig) event.WireConverter {
	return event.WireConverter{
		Type:           c.Type,
		CorrelationKey: event.AttrMeetingID,
		MetadataKeys:   []string{event.AttrMeetingID, event.AttrAttendeeID},
		RootMetadata:   RootMetadata(c),
	}
}
