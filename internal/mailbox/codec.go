package mailbox

import "strings"

// localPrefix tags reply mailboxes; inbound routing matches on it.
const localPrefix = "reply+"

// LocalPart returns the mailbox local part carrying a token.
func LocalPart(token string) string {
	return localPrefix + token
}

// Address joins the token-carrying local part with the reply domain,
// producing the value placed on the outbound Reply-To header.
func Address(token, replyDomain string) string {
	return LocalPart(token) + "@" + replyDomain
}

// DecodeAddress extracts the token from an inbound recipient address of the
// form reply+<token>@<anything>. Any other shape returns ok=false; arbitrary
// inbound traffic must never crash ingestion, so this is pure parsing with
// no lookup. A bare "reply+@x" decodes to the empty token.
func DecodeAddress(address string) (token string, ok bool) {
	if !strings.HasPrefix(address, localPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(address, localPrefix)
	at := strings.Index(rest, "@")
	if at < 0 {
		return "", false
	}
	return rest[:at], true
}
