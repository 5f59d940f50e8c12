package apkparser

import (
	"encoding/xml"
	"fmt"
)

// ComponentSummary is one activity/service/receiver/provider declared in
// the application element.
type ComponentSummary struct {
	Name          string
	Exported      bool
	ExportedIsSet bool // android:exported was present, Exported isn't a guessed default
	Permission    string
	IntentFilters []IntentFilterSummary
}

type IntentFilterSummary struct {
	Actions    []string
	Categories []string
	Data       []IntentFilterDataSummary
}

// IntentFilterDataSummary is one <data> element inside an <intent-filter>,
// the scheme/host/port/path/mimeType tuple Android matches intents against.
type IntentFilterDataSummary struct {
	Scheme      string
	Host        string
	Port        string
	Path        string
	PathPrefix  string
	PathPattern string
	MimeType    string
}

// ApplicationSummary collects the <application> element's components.
type ApplicationSummary struct {
	Label      string
	Icon       string
	Activities []ComponentSummary
	Services   []ComponentSummary
	Receivers  []ComponentSummary
	Providers  []ComponentSummary
}

// ManifestSummary is a structured projection of AndroidManifest.xml,
// built by walking the token stream ParseXml emits rather than by
// re-parsing the AXML chunks directly.
type ManifestSummary struct {
	Package          string
	VersionCode      string
	VersionName      string
	MinSdkVersion    string
	TargetSdkVersion string
	UsesPermissions  []string
	Permissions      []string
	Application      ApplicationSummary
}

// ManifestSummaryBuilder is a ManifestEncoder that, instead of
// re-emitting XML, accumulates a ManifestSummary from the token stream.
// It tracks the same element-nesting state a real xml.Encoder would,
// but projects only the handful of elements/attributes callers of this
// package care about.
type ManifestSummaryBuilder struct {
	Summary ManifestSummary

	stack     []string
	curComp   *ComponentSummary
	curFilter *IntentFilterSummary
}

func NewManifestSummaryBuilder() *ManifestSummaryBuilder {
	return &ManifestSummaryBuilder{}
}

func attrValue(attrs []xml.Attr, local string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func (b *ManifestSummaryBuilder) EncodeToken(t xml.Token) error {
	switch el := t.(type) {
	case xml.StartElement:
		b.stack = append(b.stack, el.Name.Local)
		return b.startElement(el)
	case xml.EndElement:
		b.endElement(el.Name.Local)
		if len(b.stack) > 0 {
			b.stack = b.stack[:len(b.stack)-1]
		}
	}
	return nil
}

func (b *ManifestSummaryBuilder) Flush() error { return nil }

func (b *ManifestSummaryBuilder) startElement(el xml.StartElement) error {
	switch el.Name.Local {
	case "manifest":
		v, ok := attrValue(el.Attr, "package")
		if !ok {
			return newErr(StructuralInvariant, "manifest", fmt.Errorf("manifest element missing required package attribute"))
		}
		b.Summary.Package = v
		if v, ok := attrValue(el.Attr, "versionCode"); ok {
			b.Summary.VersionCode = v
		}
		if v, ok := attrValue(el.Attr, "versionName"); ok {
			b.Summary.VersionName = v
		}
	case "uses-sdk":
		if v, ok := attrValue(el.Attr, "minSdkVersion"); ok {
			b.Summary.MinSdkVersion = v
		}
		if v, ok := attrValue(el.Attr, "targetSdkVersion"); ok {
			b.Summary.TargetSdkVersion = v
		}
	case "uses-permission", "uses-permission-sdk-23":
		if v, ok := attrValue(el.Attr, "name"); ok {
			b.Summary.UsesPermissions = append(b.Summary.UsesPermissions, v)
		}
	case "permission":
		if v, ok := attrValue(el.Attr, "name"); ok {
			b.Summary.Permissions = append(b.Summary.Permissions, v)
		}
	case "application":
		if v, ok := attrValue(el.Attr, "label"); ok {
			b.Summary.Application.Label = v
		}
		if v, ok := attrValue(el.Attr, "icon"); ok {
			b.Summary.Application.Icon = v
		}
	case "activity", "activity-alias", "service", "receiver", "provider":
		comp := ComponentSummary{}
		if v, ok := attrValue(el.Attr, "name"); ok {
			comp.Name = v
		}
		if v, ok := attrValue(el.Attr, "permission"); ok {
			comp.Permission = v
		}
		if v, ok := attrValue(el.Attr, "exported"); ok {
			comp.ExportedIsSet = true
			comp.Exported = v == "true"
		}
		b.curComp = &comp
	case "intent-filter":
		if b.curComp != nil {
			b.curFilter = &IntentFilterSummary{}
		}
	case "action":
		if b.curFilter != nil {
			if v, ok := attrValue(el.Attr, "name"); ok {
				b.curFilter.Actions = append(b.curFilter.Actions, v)
			}
		}
	case "category":
		if b.curFilter != nil {
			if v, ok := attrValue(el.Attr, "name"); ok {
				b.curFilter.Categories = append(b.curFilter.Categories, v)
			}
		}
	case "data":
		if b.curFilter != nil {
			data := IntentFilterDataSummary{}
			if v, ok := attrValue(el.Attr, "scheme"); ok {
				data.Scheme = v
			}
			if v, ok := attrValue(el.Attr, "host"); ok {
				data.Host = v
			}
			if v, ok := attrValue(el.Attr, "port"); ok {
				data.Port = v
			}
			if v, ok := attrValue(el.Attr, "path"); ok {
				data.Path = v
			}
			if v, ok := attrValue(el.Attr, "pathPrefix"); ok {
				data.PathPrefix = v
			}
			if v, ok := attrValue(el.Attr, "pathPattern"); ok {
				data.PathPattern = v
			}
			if v, ok := attrValue(el.Attr, "mimeType"); ok {
				data.MimeType = v
			}
			b.curFilter.Data = append(b.curFilter.Data, data)
		}
	}
	return nil
}

func (b *ManifestSummaryBuilder) endElement(name string) {
	switch name {
	case "intent-filter":
		if b.curComp != nil && b.curFilter != nil {
			if !b.curComp.ExportedIsSet {
				// Pre-API-31 default: presence of an intent-filter makes a
				// component exported when android:exported is absent.
				b.curComp.Exported = true
			}
			b.curComp.IntentFilters = append(b.curComp.IntentFilters, *b.curFilter)
		}
		b.curFilter = nil
	case "activity", "activity-alias", "service", "receiver", "provider":
		if b.curComp == nil {
			return
		}
		comp := *b.curComp
		switch name {
		case "activity", "activity-alias":
			b.Summary.Application.Activities = append(b.Summary.Application.Activities, comp)
		case "service":
			b.Summary.Application.Services = append(b.Summary.Application.Services, comp)
		case "receiver":
			b.Summary.Application.Receivers = append(b.Summary.Application.Receivers, comp)
		case "provider":
			b.Summary.Application.Providers = append(b.Summary.Application.Providers, comp)
		}
		b.curComp = nil
	}
}
