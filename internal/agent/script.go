package agent

// ScriptVersionPrefix is the literal prefix the version verb must print.
// The engine uses its presence to decide whether update is safe — an
// unrecognized remote script never gets overwritten blind.
const ScriptVersionPrefix = "Secure SSH Manager script"

// ScriptVersion is the version this binary embeds and will push via the
// update verb when a remote host reports a different version that carries
// ScriptVersionPrefix; a script without the prefix is never overwritten.
const ScriptVersion = ScriptVersionPrefix + " v1"

// ScriptContent is the POSIX-shell remote helper installed once per host
// under the managed login. It speaks the protocol of §4.4: the verb is
// argv[1], get_authorized_keyfile/set_authorized_keyfile take a login as
// argv[2], set_authorized_keyfile and update read their payload from
// stdin. It never shells out beyond the operations listed here.
const ScriptContent = `#!/bin/sh
# ` + ScriptVersion + `
# Installed and managed by Secure SSH Manager. Do not edit by hand.
set -eu

PRAGMA='# Auto-generated by Secure SSH Manager. DO NOT EDIT!'
SELF="$0"

verb="${1:-}"

case "$verb" in
version)
	echo "` + ScriptVersion + `"
	exit 0
	;;
get_ssh_users)
	for home in /home/* /root; do
		[ -d "$home" ] || continue
		[ -f "$home/.ssh/authorized_keys" ] || continue
		basename "$home"
	done
	exit 0
	;;
get_authorized_keyfile)
	login="${2:-}"
	path=$(eval echo "~$login")/.ssh/authorized_keys
	if [ ! -f "$path" ]; then
		exit 1
	fi
	cat "$path"
	exit 0
	;;
set_authorized_keyfile)
	login="${2:-}"
	home=$(eval echo "~$login")
	dir="$home/.ssh"
	path="$dir/authorized_keys"
	mkdir -p "$dir"
	chmod 700 "$dir"

	if [ -f "$path" ]; then
		first_line=$(head -n 1 "$path")
		if [ "$first_line" != "$PRAGMA" ]; then
			cp -p "$path" "$path.backup"
		fi
	fi

	tmp="$path.tmp.$$"
	cat > "$tmp"
	chmod 600 "$tmp"
	mv -f "$tmp" "$path"
	exit 0
	;;
update)
	tmp="$SELF.tmp.$$"
	cat > "$tmp"
	chmod 755 "$tmp"
	mv -f "$tmp" "$SELF"
	exit 0
	;;
*)
	echo "unknown verb: $verb" >&2
	exit 2
	;;
esac
`
