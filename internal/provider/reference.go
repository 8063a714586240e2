package provider

import "strings"

const scheme = "content"

// ImageReference is an opaque locator of a file that belongs to a provider
// root. It has the form content://<authority>/<root>/<relative path> and never
// carries the filesystem path of the file.
type ImageReference string

// Empty is the zero reference, meaning "nothing to show".
const Empty ImageReference = ""

func (r ImageReference) IsEmpty() bool {
	return strings.TrimSpace(string(r)) == ""
}

func (r ImageReference) String() string {
	return string(r)
}
