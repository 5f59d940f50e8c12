package apkparser

// androidAttrNames maps a subset of framework android:attr resource ids
// (frameworks/base/core/res/res/values/public.xml) to their attribute
// name, for manifests where an obfuscator/minifier stripped the string
// table entry an attribute name would normally share an index with (see
// the comment in parseTagStart). This is representative of the
// attributes that actually appear in AndroidManifest.xml, not a full
// R.attr table - unknown ids fall back to the string table lookup that
// already predates this table for every other case.
var androidAttrNames = map[uint32]string{
	0x01010000: "theme",
	0x01010001: "label",
	0x01010002: "icon",
	0x01010003: "name",
	0x01010006: "permission",
	0x01010007: "readPermission",
	0x01010008: "writePermission",
	0x0101000c: "hasCode",
	0x0101000d: "enabled",
	0x0101000f: "debuggable",
	0x01010010: "targetPackage",
	0x01010011: "process",
	0x01010012: "persistent",
	0x01010013: "taskAffinity",
	0x01010014: "multiprocess",
	0x01010015: "finishOnTaskLaunch",
	0x01010016: "clearTaskOnLaunch",
	0x01010017: "stateNotNeeded",
	0x01010018: "excludeFromRecents",
	0x01010019: "authorities",
	0x0101001a: "syncable",
	0x0101001b: "initOrder",
	0x0101001c: "grantUriPermissions",
	0x0101001d: "priority",
	0x0101001e: "launchMode",
	0x0101001f: "screenOrientation",
	0x01010020: "configChanges",
	0x01010024: "windowSoftInputMode",
	0x01010025: "protectionLevel",
	0x0101002c: "allowTaskReparenting",
	0x0101002d: "alwaysRetainTaskState",
	0x01010045: "mimeType",
	0x01010046: "scheme",
	0x01010047: "host",
	0x01010048: "port",
	0x01010049: "path",
	0x0101004a: "pathPrefix",
	0x0101004c: "pathPattern",
	0x010102be: "roundIcon",
	0x0101021b: "versionCode",
	0x0101021c: "versionName",
	0x0101028c: "installLocation",
	0x010103a7: "minSdkVersion",
	0x01010270: "targetSdkVersion",
	0x0101028d: "isGame",
	0x0101036b: "fullBackupContent",
	0x01010269: "required",
	0x0100021c: "exported",
}

// getAttributteName resolves a resource id to its framework attribute
// name, returning "" for ids this table doesn't cover.
func getAttributteName(id uint32) string {
	return androidAttrNames[id]
}
