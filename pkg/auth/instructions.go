package auth

import (
	"fmt"
	"io"
	"strings"
)

// appPasswordsURL is where Bluesky app passwords are created
const appPasswordsURL = "https://bsky.app/settings/app-passwords"

// ShowAppPasswordGuide explains how to obtain credentials for login
func ShowAppPasswordGuide(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "BLUESKY APP PASSWORD")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "This tool logs in with an app password, not your account password.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  1. Open "+appPasswordsURL)
	fmt.Fprintln(w, "  2. Click 'Add App Password' and give it a name")
	fmt.Fprintln(w, "  3. Copy the generated xxxx-xxxx-xxxx-xxxx value")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Then run:")
	fmt.Fprintln(w, "  bskyarchive auth login -u <handle> -p <app password>")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "or export %s and %s.\n", EnvIdentifier, EnvPassword)
	fmt.Fprintln(w, "The session is stored in your keyring or an encrypted file, so the")
	fmt.Fprintln(w, "password is only needed again when the session expires.")
	fmt.Fprintln(w, strings.Repeat("=", 72))
}
