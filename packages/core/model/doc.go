// Package model defines the validated, typed representation of a scenario
// document: stages, requests, discriminated body variants, substitutions,
// response steps and parametrization blocks.
//
// Decoding happens in two passes. DecodeScenario runs at load time over the
// reference-resolved tree; it validates structure but tolerates template
// strings in request and response subtrees. After the executor substitutes
// templates, DecodeRequest, DecodeVerify and DecodeSave enforce the final
// types.
package model
