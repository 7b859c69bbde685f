package classifier

import "regexp"

// Category groups rules by the kind of harm they guard against.
type Category string

// Rule categories
const (
	CategoryDestructive  Category = "destructive"
	CategoryPrivilege    Category = "privilege"
	CategorySystem       Category = "system"
	CategoryNetwork      Category = "network"
	CategoryExfiltration Category = "exfiltration"
	CategoryPackage      Category = "package"
	CategoryVCSRewrite   Category = "vcs_rewrite"
	CategoryObfuscation  Category = "obfuscation"
	CategoryPolicy       Category = "policy"
)

// Scope says what a rule's pattern is matched against.
type Scope int

const (
	// ScopeSubcommand matches each simple command with any sudo prefix removed.
	ScopeSubcommand Scope = iota
	// ScopeFull matches the whole command line, for patterns spanning pipes.
	ScopeFull
)

// Rule is one entry of the risk table.
type Rule struct {
	ID          string
	Category    Category
	Pattern     *regexp.Regexp
	Weight      int
	Scope       Scope
	Description string
}

func rule(id string, cat Category, weight int, scope Scope, pattern, desc string) Rule {
	return Rule{
		ID:          id,
		Category:    cat,
		Pattern:     regexp.MustCompile(pattern),
		Weight:      weight,
		Scope:       scope,
		Description: desc,
	}
}

// DefaultRules is the built-in risk table.
var DefaultRules = []Rule{
	rule("rm-root", CategoryDestructive, 100, ScopeSubcommand,
		`^rm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*([rR][a-zA-Z]*f|f[a-zA-Z]*[rR])[a-zA-Z]*\s+(--no-preserve-root\s+)?(/|~|/\*|\*|\$HOME)/?(\s|$)`,
		"recursive force delete of root, home or wildcard"),
	rule("rm-recursive", CategoryDestructive, 30, ScopeSubcommand,
		`^rm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*[rRf]`, "recursive or forced delete"),
	rule("rm", CategoryDestructive, 10, ScopeSubcommand, `^rm\s`, "file deletion"),
	rule("mkfs", CategoryDestructive, 90, ScopeSubcommand, `^(mkfs(\.\w+)?|wipefs|fdisk|parted)\b`, "filesystem or partition table change"),
	rule("dd-device", CategoryDestructive, 90, ScopeSubcommand, `^dd\s+.*\bof=/dev/`, "raw write to a block device"),
	rule("redirect-device", CategoryDestructive, 90, ScopeFull, `>\s*/dev/(sd[a-z]|nvme\d|disk\d|hd[a-z])`, "redirect into a block device"),
	rule("shred", CategoryDestructive, 40, ScopeSubcommand, `^shred\b`, "secure file erase"),
	rule("fork-bomb", CategoryDestructive, 100, ScopeFull, `:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`, "fork bomb"),
	rule("sql-drop", CategoryDestructive, 50, ScopeFull, `(?i)\b(DROP\s+(TABLE|DATABASE|SCHEMA)|TRUNCATE\s+TABLE)\b`, "destructive SQL statement"),
	rule("truncate-file", CategoryDestructive, 10, ScopeFull, `(^|[^>&0-9])>\s*[^>&\s]`, "truncating redirect"),

	rule("sudo", CategoryPrivilege, 15, ScopeFull, `(^|[;&|(]\s*)sudo\b`, "runs with elevated privileges"),
	rule("su", CategoryPrivilege, 20, ScopeSubcommand, `^su(\s|$)`, "switches user"),
	rule("chmod-world", CategoryPrivilege, 30, ScopeSubcommand, `^chmod\s+(-R\s+)?(0?777|a\+rwx|o\+w)\b`, "world-writable permissions"),
	rule("chmod-setuid", CategoryPrivilege, 40, ScopeSubcommand, `^chmod\s+(-R\s+)?([ugoa]*\+s|[4267][0-7]{3})\b`, "setuid/setgid bit"),
	rule("chown-recursive", CategoryPrivilege, 20, ScopeSubcommand, `^chown\s+-R\b`, "recursive ownership change"),

	rule("power", CategorySystem, 60, ScopeSubcommand, `^(shutdown|reboot|halt|poweroff)\b`, "power state change"),
	rule("systemctl", CategorySystem, 30, ScopeSubcommand, `^systemctl\s+(stop|disable|mask|restart|kill)\b`, "service disruption"),
	rule("kill9", CategorySystem, 20, ScopeSubcommand, `^(kill\s+-(9|KILL)|killall|pkill)\b`, "forced process termination"),
	rule("crontab-remove", CategorySystem, 40, ScopeSubcommand, `^crontab\s+-r\b`, "removes the crontab"),
	rule("firewall", CategorySystem, 30, ScopeSubcommand, `^(iptables|ip6tables|ufw|nft)\b`, "firewall change"),
	rule("mount", CategorySystem, 20, ScopeSubcommand, `^(u?mount)\b`, "mount table change"),

	rule("http-client", CategoryNetwork, 5, ScopeSubcommand, `^(curl|wget)\b`, "outbound HTTP request"),
	rule("netcat", CategoryNetwork, 30, ScopeSubcommand, `^(nc|ncat|netcat|socat)\b`, "raw socket tool"),
	rule("remote-shell", CategoryNetwork, 10, ScopeSubcommand, `^(ssh|scp|rsync|sftp)\b`, "remote host access"),

	rule("upload", CategoryExfiltration, 40, ScopeSubcommand,
		`^(curl|wget)\b.*(\s-d\s*@|--data(-binary|-raw)?\s*@|\s-T\s|--upload-file|\s-F\s*\S+=@|--post-file)`, "uploads local file contents"),
	rule("ssh-keys", CategoryExfiltration, 40, ScopeFull, `\.ssh/(id_[a-z0-9]+|authorized_keys)`, "touches SSH keys"),
	rule("system-credentials", CategoryExfiltration, 40, ScopeFull, `/etc/(shadow|sudoers|gshadow)`, "reads system credential files"),
	rule("cloud-credentials", CategoryExfiltration, 25, ScopeFull, `(\.aws/credentials|\.config/gcloud|\.kube/config|AWS_SECRET_ACCESS_KEY)`, "touches cloud credentials"),
	rule("env-dump", CategoryExfiltration, 15, ScopeSubcommand, `^(env|printenv)(\s|$)`, "dumps environment variables"),

	rule("system-package", CategoryPackage, 15, ScopeSubcommand, `^(apt(-get)?|yum|dnf|brew|pacman|apk|zypper)\s+(install|remove|purge|upgrade|-S|-R)\b`, "system package change"),
	rule("language-package", CategoryPackage, 10, ScopeSubcommand, `^(pip3?|npm|pnpm|yarn|gem|cargo|go)\s+(install|uninstall|remove|add)\b`, "language package change"),

	rule("git-force-push", CategoryVCSRewrite, 40, ScopeSubcommand, `^git\s+push\b.*(\s--force(-with-lease)?\b|\s-f\b)`, "force push rewrites remote history"),
	rule("git-reset-hard", CategoryVCSRewrite, 30, ScopeSubcommand, `^git\s+reset\s+--hard\b`, "discards local changes"),
	rule("git-clean", CategoryVCSRewrite, 30, ScopeSubcommand, `^git\s+clean\s+-[a-zA-Z]*f`, "deletes untracked files"),
	rule("git-history", CategoryVCSRewrite, 15, ScopeSubcommand, `^git\s+(branch\s+-D|filter-branch|filter-repo|rebase)\b`, "rewrites local history"),

	rule("pipe-to-shell", CategoryObfuscation, 60, ScopeFull, `(curl|wget)\b[^|]*\|\s*(sudo\s+)?(\S*/)?(ba|z|da|k)?sh\b`, "pipes downloaded content into a shell"),
	rule("base64-exec", CategoryObfuscation, 60, ScopeFull, `base64\s+(-d|--decode)\b.*\|\s*(sudo\s+)?(\S*/)?(ba|z|da|k)?sh\b`, "executes decoded payload"),
	rule("eval", CategoryObfuscation, 25, ScopeSubcommand, `^eval\b`, "evaluates a dynamic string"),
	rule("interpreter-inline", CategoryObfuscation, 10, ScopeSubcommand, `^(python3?|perl|ruby|node)\s+-(c|e)\b`, "inline interpreter code"),
}
