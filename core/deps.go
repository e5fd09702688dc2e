package core

import "pkt.systems/pslog"

// Deps captures the collaborators a Manager is wired to. Channel may be nil,
// in which case the manager runs in local-only mode.
type Deps struct {
	Host    Host
	Channel Channel
	Codec   Codec
	Logger  pslog.Logger
}
