package ledger

import (
	"regexp"
	"strings"
)

var routingCodePattern = regexp.MustCompile(`^\d{22}$`)

type destinationKind int

const (
	destinationOpaque destinationKind = iota
	destinationRoutingCode
	destinationAlias
)

// classifyDestination guesses what kind of identifier a caller typed. The
// result only feeds narrative text; lookups always match both fields.
func classifyDestination(dest string) destinationKind {
	switch {
	case routingCodePattern.MatchString(dest):
		return destinationRoutingCode
	case strings.Contains(dest, "."):
		return destinationAlias
	default:
		return destinationOpaque
	}
}

func transferOutNarrative(dest string) string {
	switch classifyDestination(dest) {
	case destinationRoutingCode:
		return "Transfer to CVU: " + dest
	case destinationAlias:
		return "Transfer to Alias: " + dest
	default:
		return "Transfer to CBU: " + dest
	}
}

func transferInNarrative(sourceRoutingCode string) string {
	return "Transfer from " + sourceRoutingCode
}

func depositNarrative(c Card) string {
	return "Deposit from card **** " + c.LastFour
}

// recipientFromNarrative recovers the destination token from a generated
// TRANSFER_OUT narrative. Entries written with Counterparty set never need it.
func recipientFromNarrative(desc string) string {
	_, token, ok := strings.Cut(desc, ": ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
