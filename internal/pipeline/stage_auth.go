package pipeline

// authStage turns the one-time auth configuration into connection arguments
// and keeps the session credential fresh when the provider renews its token.
type authStage struct {
	stageBase
}

func newAuthStage() *authStage {
	return &authStage{stageBase: stageBase{name: "UseAuthProvider"}}
}

func (s *authStage) ExecuteOp(op Operation) {
	switch op := op.(type) {
	case *SetAuthProviderOp:
		p := op.Provider
		p.SetOnTokenRenewed(func(token string) {
			s.post(func() { s.onTokenRenewed(token) })
		})
		s.sendOpDown(&SetConnectionArgsOp{
			opState:         newOpState(s.completes(op)),
			DeviceID:        p.DeviceID(),
			ModuleID:        p.ModuleID(),
			Hostname:        p.Hostname(),
			GatewayHostname: p.GatewayHostname(),
			CACert:          p.CACert(),
			SASToken:        p.SASToken(),
		})

	case *SetX509AuthProviderOp:
		p := op.Provider
		s.sendOpDown(&SetConnectionArgsOp{
			opState:         newOpState(s.completes(op)),
			DeviceID:        p.DeviceID(),
			ModuleID:        p.ModuleID(),
			Hostname:        p.Hostname(),
			GatewayHostname: p.GatewayHostname(),
			CACert:          p.CACert(),
			ClientCert:      p.Certificate(),
		})

	default:
		s.sendOpDown(op)
	}
}

// onTokenRenewed installs the new credential and, if a session is open,
// reconnects so the broker sees it.
func (s *authStage) onTokenRenewed(token string) {
	s.log.Info("sas token renewed", "stage", s.name)

	s.sendOpDown(&UpdateSASTokenOp{
		opState: newOpState(func(_ Operation, err error) {
			if err != nil {
				s.reportFailure(err)
				return
			}
			if !s.root.Connected() {
				return
			}
			s.sendOpDown(&ReconnectOp{opState: newOpState(func(_ Operation, err error) {
				if err != nil {
					s.reportFailure(err)
				}
			})})
		}),
		SASToken: token,
	})
}
