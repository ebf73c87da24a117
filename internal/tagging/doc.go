// Package tagging derives image tags from a running container.
//
// Each Tagger is a named, stateless strategy. It runs read-only probe
// commands (`--version` flags, `pip show`, /etc/os-release) through a
// CommandRunner and parses their text output into a single tag such as
// "python-3.11.4" or "ubuntu-22.04". Taggers never retry, except for
// tensorflow-version, which falls back to the tensorflow-cpu package once.
package tagging
