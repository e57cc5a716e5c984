package deployer

import "strings"

// slugify lowercases s and replaces every non-alphanumeric character with a hyphen,
// used to turn a branch name into the path- and host-safe branch slug.
func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// unitName returns the systemd unit and system user name for a deployment target.
func unitName(project, branchSlug, service string) string {
	return "kennel-" + project + "-" + branchSlug + "-" + service
}
