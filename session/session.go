// Package session orchestrates one end-to-end eMRTD read: connect,
// PACE/BAC, optional Chip Authentication, read the requested data
// groups, optional Active Authentication, and Passive Authentication
// over whatever was collected. It is the one entry point the host
// application calls; everything else in this module is a component it
// wires together.
//
// Grounded on the teacher's cmd/root.go connectAndPrepareReader (a
// fixed pipeline of independently-checked setup steps, each reporting
// its own outcome rather than aborting the whole run) and card/apdu.go's
// retry idioms, generalized from one SIM card session to the
// PACE/BAC -> CA -> per-DG -> AA -> PA state machine ICAO 9303 Part 11
// describes.
package session

import (
	"context"
	"fmt"
	"sync"

	"mrtdreader/display"
	"mrtdreader/document"
	"mrtdreader/handshake"
	"mrtdreader/lds"
	"mrtdreader/masterlist"
	"mrtdreader/mrtderr"
	"mrtdreader/passiveauth"
	"mrtdreader/securemessaging"
	"mrtdreader/tagreader"
	"mrtdreader/transport"
)

// Options configures one Session. MasterList may be nil; when nil,
// Passive Authentication leaves ChainBuilt false and records an error
// that fails its status, whether or not RequireMasterList is set
// (RequireMasterList only changes the error's wording).
type Options struct {
	MasterList        *masterlist.MasterList
	RequireMasterList bool
}

// Session binds a transport.Transport to one Options set. It is
// stateless between ReadDocument calls: all per-read state lives in
// the call's own locals and the returned *document.Result.
type Session struct {
	Transport transport.Transport
	Options   Options
}

// New returns a Session driving t.
func New(t transport.Transport, opts Options) *Session {
	return &Session{Transport: t, Options: opts}
}

// readAction is classifyReadError's verdict on a per-data-group read
// failure, per spec's retry policy.
type readAction int

const (
	actionRetryVerbatim readAction = iota
	actionRetrySmaller
	actionReestablishBAC
	actionDropDataGroup
)

// classifyReadError maps a data-group read failure onto the retry
// policy: a corrupted secure-messaging channel calls for re-running
// BAC before retrying, an access-denial status calls for dropping the
// data group, a wrong-length status calls for a smaller read chunk,
// and anything else gets one verbatim retry.
func classifyReadError(err error) readAction {
	me, ok := err.(*mrtderr.Error)
	if !ok {
		return actionRetryVerbatim
	}
	switch me.Kind {
	case mrtderr.KindSMError:
		return actionReestablishBAC
	case mrtderr.KindResponseError:
		switch {
		case me.SW1 == 0x69 && me.SW2 == 0x88: // SM data objects incorrect
			return actionReestablishBAC
		case me.SW1 == 0x69 && me.SW2 == 0x82: // security status not satisfied
			return actionDropDataGroup
		case me.SW1 == 0x6A && me.SW2 == 0x82: // file not found
			return actionDropDataGroup
		case me.SW1 == 0x6E: // class not supported: treat as a dead channel
			return actionReestablishBAC
		case me.SW1 == 0x67 || me.SW1 == 0x6C: // wrong length
			return actionRetrySmaller
		}
	}
	return actionRetryVerbatim
}

// ReadDocument runs the full read state machine: INIT -> SELECT_APP ->
// PACE (falling back to BAC) -> READ_COM/SOD -> optional Chip
// Authentication -> remaining requested data groups -> optional Active
// Authentication -> Passive Authentication -> DONE.
//
// dataGroups, if non-empty, restricts the read to those ids (plus
// COM/SOD, always read); an empty slice means "every data group EF.COM
// names". skipSecureElements drops DG3/DG4 (fingerprint/iris images,
// which require EAC beyond this module's scope) from the effective
// list, whether they were requested explicitly or come from EF.COM's
// list. dataAmountOverride, if > 0, lowers the first
// READ BINARY chunk size (see tagreader.Reader.ReduceDataReadingAmount).
// onDisplayMessage, if non-nil, is called synchronously with every
// user-facing progress/outcome message as it occurs.
func (s *Session) ReadDocument(
	ctx context.Context,
	mrzInformation string,
	dataGroups []document.DataGroupID,
	skipSecureElements bool,
	skipCA bool,
	skipPACE bool,
	dataAmountOverride int,
	onDisplayMessage func(display.Message),
) (*document.Result, error) {
	notify := func(m display.Message) {
		if onDisplayMessage != nil {
			onDisplayMessage(m)
		}
	}

	var invalidateOnce sync.Once
	invalidate := func(msg string) {
		invalidateOnce.Do(func() { s.Transport.Invalidate(msg) })
	}
	defer invalidate("")

	fail := func(err *mrtderr.Error, reason string) (*document.Result, error) {
		notify(display.Error{Err: err})
		invalidate(reason)
		return nil, err
	}

	result := &document.Result{DataGroups: make(map[document.DataGroupID]document.DataGroup)}

	notify(display.RequestPresent{})
	if err := s.Transport.Connect(ctx); err != nil {
		return fail(mrtderr.New(mrtderr.KindConnectionError, err), "connect failed")
	}

	reader := tagreader.New(s.Transport)
	if dataAmountOverride > 0 {
		reader.ReduceDataReadingAmount = dataAmountOverride
	}

	if err := reader.SelectApplication(ctx, tagreader.ApplicationAID); err != nil {
		return fail(asMRTDError(err), "select application failed")
	}

	sess, err := s.establishSecureChannel(ctx, reader, mrzInformation, skipPACE, result, notify)
	if err != nil {
		return fail(asMRTDError(err), "handshake failed")
	}
	reader.Session = sess
	defer func() {
		if reader.Session != nil {
			reader.Session.Zero()
		}
	}()

	com, err := readAndDecode(ctx, reader, document.COM)
	if err != nil {
		return fail(asMRTDError(err), "EF.COM read failed")
	}
	result.DataGroups[document.COM] = com
	comFile := com.(*lds.COM)

	if sod, err := readAndDecode(ctx, reader, document.SOD); err == nil {
		result.DataGroups[document.SOD] = sod
	} else {
		result.VerificationErrors = append(result.VerificationErrors, err)
	}

	requested := make(map[document.DataGroupID]bool, len(dataGroups))
	for _, id := range dataGroups {
		requested[id] = true
	}
	toRead := effectiveDataGroupList(comFile, dataGroups, skipSecureElements)

	if !skipCA {
		s.runChipAuthentication(ctx, reader, &toRead, result, mrzInformation, notify)
	}

	for _, id := range toRead {
		reader.OnProgress = func(pct int) { notify(display.ReadingDataGroup{DataGroup: id, Percent: pct}) }
		notify(display.ReadingDataGroup{DataGroup: id, Percent: 0})

		dg, err := s.readDataGroupWithRetry(ctx, reader, id, mrzInformation)
		if err != nil {
			result.VerificationErrors = append(result.VerificationErrors, err)
			if requested[id] {
				return fail(asMRTDError(err), fmt.Sprintf("explicitly requested %s could not be read", id))
			}
			continue
		}
		result.DataGroups[id] = dg
	}
	reader.OnProgress = nil

	s.runActiveAuthentication(ctx, reader, result)

	s.runPassiveAuthentication(result)

	notify(display.SuccessfulRead{})
	return result, nil
}

// establishSecureChannel tries PACE (when EF.CardAccess advertises it
// and skipPACE is false) and falls back to BAC on any PACE failure or
// absence, per spec: PACE failure is never terminal on its own.
func (s *Session) establishSecureChannel(
	ctx context.Context,
	reader *tagreader.Reader,
	mrzInformation string,
	skipPACE bool,
	result *document.Result,
	notify func(display.Message),
) (securemessaging.Session, error) {
	reader.OnProgress = func(pct int) { notify(display.Authenticating{Percent: pct}) }
	defer func() { reader.OnProgress = nil }()

	if !skipPACE {
		if cardAccess, err := reader.ReadCardAccess(ctx); err == nil {
			result.CardAccess = cardAccess.Raw()
			if infos := cardAccess.PACEInfos(); len(infos) > 0 {
				paceSess, err := handshake.RunPACE(ctx, reader, infos[0], mrzInformation)
				if err == nil {
					result.PACEStatus = document.Success
					return paceSess, nil
				}
				result.PACEStatus = document.Failed
				result.VerificationErrors = append(result.VerificationErrors, err)
			}
		}
	}

	bacSess, err := handshake.RunBAC(ctx, reader, mrzInformation)
	if err != nil {
		result.BACStatus = document.Failed
		return nil, err
	}
	result.BACStatus = document.Success
	return bacSess, nil
}

// runChipAuthentication reads DG14 when it is in toRead (removing it
// from toRead so the main loop does not read it again; when DG14 is not
// in toRead, Chip Authentication is skipped) and, if it carries a CA public
// key, replaces the current secure-messaging session with one derived
// from Chip Authentication. A CA failure is recorded but not fatal:
// BAC is re-run from the MRZ so the remaining data groups still read
// over a valid channel rather than the one CA just failed to replace.
func (s *Session) runChipAuthentication(
	ctx context.Context,
	reader *tagreader.Reader,
	toRead *[]document.DataGroupID,
	result *document.Result,
	mrzInformation string,
	notify func(display.Message),
) {
	hasDG14 := false
	remaining := (*toRead)[:0:0]
	for _, id := range *toRead {
		if id == document.DG14 {
			hasDG14 = true
			continue
		}
		remaining = append(remaining, id)
	}
	if !hasDG14 {
		return
	}

	notify(display.ReadingDataGroup{DataGroup: document.DG14})
	dg, err := readAndDecode(ctx, reader, document.DG14)
	if err != nil {
		result.VerificationErrors = append(result.VerificationErrors, err)
		*toRead = remaining
		return
	}
	result.DataGroups[document.DG14] = dg
	*toRead = remaining

	dg14 := dg.(*lds.DG14)
	pubKeys := dg14.ChipAuthenticationPublicKeys()
	if len(pubKeys) == 0 {
		return
	}
	var protocolInfo lds.SecurityInfo
	for _, info := range dg14.Infos {
		if info.Kind == "CA" {
			protocolInfo = info
			break
		}
	}
	if protocolInfo.Protocol == "" {
		protocolInfo = pubKeys[0]
	}

	caSess, err := handshake.RunChipAuth(ctx, reader, protocolInfo, pubKeys[0])
	if err != nil {
		result.ChipAuthenticationStatus = document.Failed
		result.VerificationErrors = append(result.VerificationErrors, err)

		// Chip Authentication failure must not leave the remaining reads
		// running over a half-transitioned channel: the BAC/PACE session
		// is re-established from scratch, same as any other SM failure,
		// so the rest of toRead still reads over a valid channel.
		reader.Session = nil
		if bacSess, bacErr := handshake.RunBAC(ctx, reader, mrzInformation); bacErr == nil {
			reader.Session = bacSess
			result.BACStatus = document.Success
		} else {
			result.BACStatus = document.Failed
			result.VerificationErrors = append(result.VerificationErrors, bacErr)
		}
		return
	}
	if reader.Session != nil {
		reader.Session.Zero()
	}
	reader.Session = caSess
	result.ChipAuthenticationStatus = document.Success
}

// readDataGroupWithRetry applies classifyReadError's verdict, allowing
// at most one retry before abandoning the data group.
func (s *Session) readDataGroupWithRetry(ctx context.Context, reader *tagreader.Reader, id document.DataGroupID, mrzInformation string) (document.DataGroup, error) {
	dg, err := readAndDecode(ctx, reader, id)
	if err == nil {
		return dg, nil
	}

	switch classifyReadError(err) {
	case actionDropDataGroup:
		return nil, err
	case actionReestablishBAC:
		// BAC's own GET CHALLENGE/EXTERNAL AUTHENTICATE APDUs are
		// plaintext; the degraded session must come down first or BAC
		// itself would be wrapped through the very channel that just
		// failed.
		reader.Session = nil
		if bacSess, bacErr := handshake.RunBAC(ctx, reader, mrzInformation); bacErr == nil {
			reader.Session = bacSess
		}
	case actionRetrySmaller:
		if reader.ReduceDataReadingAmount == 0 || reader.ReduceDataReadingAmount > 1 {
			half := reader.ReduceDataReadingAmount / 2
			if half < 1 {
				half = 0x50
			}
			reader.ReduceDataReadingAmount = half
		}
	case actionRetryVerbatim:
	}

	return readAndDecode(ctx, reader, id)
}

// runActiveAuthentication requires DG15 to already be in result; if it
// was not requested (and so not read), Active Authentication is simply
// skipped rather than forced.
func (s *Session) runActiveAuthentication(ctx context.Context, reader *tagreader.Reader, result *document.Result) {
	dg, ok := result.DataGroups[document.DG15]
	if !ok {
		return
	}
	dg15 := dg.(*lds.DG15)

	ok2, err := handshake.RunActiveAuth(ctx, reader, dg15.PublicKey)
	if err != nil {
		result.ActiveAuthenticationStatus = document.Failed
		result.VerificationErrors = append(result.VerificationErrors, err)
		return
	}
	if ok2 {
		result.ActiveAuthenticationStatus = document.Success
	} else {
		result.ActiveAuthenticationStatus = document.Failed
	}
}

// runPassiveAuthentication requires EF.SOD to have been read; without
// it, Passive Authentication cannot run at all and is left NotDone.
func (s *Session) runPassiveAuthentication(result *document.Result) {
	sodDG, ok := result.DataGroups[document.SOD]
	if !ok {
		return
	}
	sod := sodDG.(*lds.SOD)

	if dsc, err := sod.SignerCertificate(); err == nil {
		result.DocumentSigningCertificate = dsc.Raw
	}

	pa := passiveauth.Verify(sod, result.DataGroups, s.Options.MasterList, s.Options.RequireMasterList)
	result.PassiveAuthenticationStatus = pa.Status()
	result.VerificationErrors = append(result.VerificationErrors, pa.Errors...)
}

// effectiveDataGroupList resolves the caller's requested set against
// what EF.COM actually advertises: an empty requested list means every
// DG EF.COM names, otherwise only the intersection of requested and
// advertised is read; in both cases DG3/DG4 are dropped when
// skipSecureElements is set.
func effectiveDataGroupList(com *lds.COM, requested []document.DataGroupID, skipSecureElements bool) []document.DataGroupID {
	advertised := make(map[document.DataGroupID]bool, len(com.DataGroups))
	for _, id := range com.DataGroups {
		advertised[id] = true
	}

	var base []document.DataGroupID
	if len(requested) == 0 {
		base = com.DataGroups
	} else {
		for _, id := range requested {
			if advertised[id] {
				base = append(base, id)
			}
		}
	}

	out := make([]document.DataGroupID, 0, len(base))
	for _, id := range base {
		if skipSecureElements && (id == document.DG3 || id == document.DG4) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func readAndDecode(ctx context.Context, reader *tagreader.Reader, id document.DataGroupID) (document.DataGroup, error) {
	return reader.ReadDataGroup(ctx, id)
}

func asMRTDError(err error) *mrtderr.Error {
	if me, ok := err.(*mrtderr.Error); ok {
		return me
	}
	return mrtderr.New(mrtderr.KindUnexpected, err)
}
