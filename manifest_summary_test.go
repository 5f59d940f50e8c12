package apkparser_test

import (
	"encoding/xml"
	"testing"

	"github.com/avast/bytecodescan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nameAttr(local, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: local}, Value: value}
}

func start(name string, attrs ...xml.Attr) xml.StartElement {
	return xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs}
}

func end(name string) xml.EndElement {
	return xml.EndElement{Name: xml.Name{Local: name}}
}

// feedTokens drives a ManifestSummaryBuilder through a manifest shaped
// like:
//
//	<manifest package="com.example.app" versionCode="3" versionName="1.2">
//	  <uses-sdk minSdkVersion="21" targetSdkVersion="33"/>
//	  <uses-permission name="android.permission.INTERNET"/>
//	  <application label="App" icon="@mipmap/ic_launcher">
//	    <activity name=".MainActivity">
//	      <intent-filter>
//	        <action name="android.intent.action.MAIN"/>
//	        <category name="android.intent.category.LAUNCHER"/>
//	        <data scheme="https" host="example.com" path="/app"/>
//	      </intent-filter>
//	    </activity>
//	    <service name=".BackgroundService" exported="false"/>
//	  </application>
//	</manifest>
func feedTokens(b *apkparser.ManifestSummaryBuilder) {
	tokens := []xml.Token{
		start("manifest",
			nameAttr("package", "com.example.app"),
			nameAttr("versionCode", "3"),
			nameAttr("versionName", "1.2")),
		start("uses-sdk", nameAttr("minSdkVersion", "21"), nameAttr("targetSdkVersion", "33")),
		end("uses-sdk"),
		start("uses-permission", nameAttr("name", "android.permission.INTERNET")),
		end("uses-permission"),
		start("application", nameAttr("label", "App"), nameAttr("icon", "@mipmap/ic_launcher")),
		start("activity", nameAttr("name", ".MainActivity")),
		start("intent-filter"),
		start("action", nameAttr("name", "android.intent.action.MAIN")),
		end("action"),
		start("category", nameAttr("name", "android.intent.category.LAUNCHER")),
		end("category"),
		start("data", nameAttr("scheme", "https"), nameAttr("host", "example.com"), nameAttr("path", "/app")),
		end("data"),
		end("intent-filter"),
		end("activity"),
		start("service", nameAttr("name", ".BackgroundService"), nameAttr("exported", "false")),
		end("service"),
		end("application"),
		end("manifest"),
	}
	for _, tok := range tokens {
		_ = b.EncodeToken(tok)
	}
}

func TestManifestSummaryBuilder(t *testing.T) {
	b := apkparser.NewManifestSummaryBuilder()
	feedTokens(b)

	s := b.Summary
	assert.Equal(t, "com.example.app", s.Package)
	assert.Equal(t, "3", s.VersionCode)
	assert.Equal(t, "1.2", s.VersionName)
	assert.Equal(t, "21", s.MinSdkVersion)
	assert.Equal(t, "33", s.TargetSdkVersion)
	assert.Equal(t, []string{"android.permission.INTERNET"}, s.UsesPermissions)
	assert.Equal(t, "App", s.Application.Label)

	require.Len(t, s.Application.Activities, 1)
	activity := s.Application.Activities[0]
	assert.Equal(t, ".MainActivity", activity.Name)
	assert.True(t, activity.Exported, "activity with an intent-filter and no explicit android:exported defaults to exported")
	assert.False(t, activity.ExportedIsSet)
	require.Len(t, activity.IntentFilters, 1)
	assert.Equal(t, []string{"android.intent.action.MAIN"}, activity.IntentFilters[0].Actions)
	assert.Equal(t, []string{"android.intent.category.LAUNCHER"}, activity.IntentFilters[0].Categories)
	require.Len(t, activity.IntentFilters[0].Data, 1)
	assert.Equal(t, "https", activity.IntentFilters[0].Data[0].Scheme)
	assert.Equal(t, "example.com", activity.IntentFilters[0].Data[0].Host)
	assert.Equal(t, "/app", activity.IntentFilters[0].Data[0].Path)

	require.Len(t, s.Application.Services, 1)
	service := s.Application.Services[0]
	assert.Equal(t, ".BackgroundService", service.Name)
	assert.True(t, service.ExportedIsSet)
	assert.False(t, service.Exported)
}

func TestManifestSummaryBuilderFlush(t *testing.T) {
	b := apkparser.NewManifestSummaryBuilder()
	assert.NoError(t, b.Flush())
}

func TestManifestSummaryBuilderMissingPackage(t *testing.T) {
	b := apkparser.NewManifestSummaryBuilder()
	err := b.EncodeToken(start("manifest", nameAttr("versionCode", "1")))
	require.Error(t, err)

	derr, ok := err.(*apkparser.Error)
	require.True(t, ok, "expected *apkparser.Error, got %T", err)
	assert.Equal(t, apkparser.StructuralInvariant, derr.Kind)
}
