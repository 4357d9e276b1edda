package util

import (
	"strings"
)

// executable and installer types which are never turned into data wallets
var DENIED_FILE_EXTENSIONS = map[string]string{"ade": "ade", "adp": "adp", "apk": "apk", "appx": "appx", "appxbundle": "appxbundle", "bat": "bat", "cab": "cab", "chm": "chm", "cmd": "cmd", "com": "com", "cpl": "cpl", "dll": "dll", "dmg": "dmg", "ex": "ex", "ex_": "ex_", "exe": "exe", "hta": "hta", "ins": "ins", "isp": "isp", "iso": "iso", "jar": "jar", "js": "js", "jse": "jse", "lib": "lib", "lnk": "lnk", "mde": "mde", "msc": "msc", "msi": "msi", "msix": "msix", "msixbundle": "msixbundle", "msp": "msp", "mst": "mst", "nsh": "nsh", "pif": "pif", "ps1": "ps1", "scr": "scr", "sct": "sct", "shb": "shb", "sys": "sys", "vb": "vb", "vbe": "vbe", "vbs": "vbs", "vxd": "vxd", "wsc": "wsc", "wsf": "wsf", "wsh": "wsh"}

// IsDeniedFileExtension checks the extension of the filename against DENIED_FILE_EXTENSIONS
func IsDeniedFileExtension(filename string) bool {
	ext := strings.TrimPrefix(FileExtension(filename), ".")
	if ext == "" {
		return false
	}
	_, denied := DENIED_FILE_EXTENSIONS[ext]
	return denied
}

// IsAllowedFileType checks filename and content type against an allow list of
// extensions (".pdf" or "pdf") or mime types ("application/pdf", "image/*").
// An empty allow list allows everything.
func IsAllowedFileType(filename, contentType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ext := FileExtension(filename)
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		switch {
		case a == "":
			continue
		case strings.Contains(a, "/"):
			if strings.HasSuffix(a, "/*") && strings.HasPrefix(ct, strings.TrimSuffix(a, "*")) {
				return true
			}
			if a == ct {
				return true
			}
		default:
			if !strings.HasPrefix(a, ".") {
				a = "." + a
			}
			if a == ext {
				return true
			}
		}
	}
	return false
}
