// Package crypto implements the blind Diffie-Hellman key exchange
// used to issue tokens, the per-denomination keyset derivation and the
// wallet-side deterministic secret derivation.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// HashToCurve maps a secret to a point on the curve. It is stable
// across implementations: the same secret always yields the same
// point, which is what the used-proofs ledger is keyed by.
func HashToCurve(message []byte) *secp256k1.PublicKey {
	var point *secp256k1.PublicKey

	for point == nil || !point.IsOnCurve() {
		hash := sha256.Sum256(message)
		pkhash := append([]byte{0x02}, hash[:]...)
		point, _ = secp256k1.ParsePubKey(pkhash)
		message = hash[:]
	}
	return point
}

// B_ = Y + rG
func BlindMessage(secret []byte, blindingFactor []byte) (*secp256k1.PublicKey, *secp256k1.PrivateKey) {
	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint

	Y := HashToCurve(secret)
	Y.AsJacobian(&ypoint)

	r, rpub := btcec.PrivKeyFromBytes(blindingFactor)
	rpub.AsJacobian(&rpoint)

	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	B_ := secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)

	return B_, r
}

// C_ = kB_
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	C_ := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C_
}

// C = C_ - rK
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey,
	K *secp256k1.PublicKey) *secp256k1.PublicKey {

	var Kpoint, rKPoint, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)

	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	var C_Point secp256k1.JacobianPoint
	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	C := secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
	return C
}

// Verify checks k * HashToCurve(secret) == C
func Verify(secret []byte, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	var Ypoint, result secp256k1.JacobianPoint
	Y := HashToCurve(secret)
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}

// HashE computes the Fiat-Shamir challenge for a DLEQ proof: sha256
// over the concatenated uncompressed hex encodings of the points.
func HashE(pubkeys []*secp256k1.PublicKey) [32]byte {
	var msg string
	for _, pubkey := range pubkeys {
		msg += hex.EncodeToString(pubkey.SerializeUncompressed())
	}
	return sha256.Sum256([]byte(msg))
}

// GenerateDLEQ proves that C_ was signed with the private key k whose
// public key A = kG the mint has published:
//
//	r = random nonce
//	R1 = rG, R2 = rB_
//	e = hash(R1, R2, A, C_)
//	s = r + e*k
func GenerateDLEQ(k *secp256k1.PrivateKey, B_, C_ *secp256k1.PublicKey) (
	*secp256k1.PrivateKey, *secp256k1.PrivateKey, error) {

	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}

	R1 := r.PubKey()
	R2 := SignBlindedMessage(B_, r)
	A := k.PubKey()

	eHash := HashE([]*secp256k1.PublicKey{R1, R2, A, C_})
	var e secp256k1.ModNScalar
	e.SetBytes(&eHash)

	// s = r + e*k
	var s secp256k1.ModNScalar
	s.Mul2(&e, &k.Key).Add(&r.Key)

	return secp256k1.NewPrivateKey(&e), secp256k1.NewPrivateKey(&s), nil
}

// VerifyDLEQ recomputes R1 = sG - eA and R2 = sB_ - eC_ and checks
// that e matches the transcript hash.
func VerifyDLEQ(e, s *secp256k1.PrivateKey,
	A, B_, C_ *secp256k1.PublicKey) bool {

	var eNeg secp256k1.ModNScalar
	eNeg.NegateVal(&e.Key)

	// R1 = sG - eA
	var sG, eNegA, R1Point secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s.Key, &sG)

	var APoint secp256k1.JacobianPoint
	A.AsJacobian(&APoint)
	secp256k1.ScalarMultNonConst(&eNeg, &APoint, &eNegA)

	secp256k1.AddNonConst(&sG, &eNegA, &R1Point)
	R1Point.ToAffine()
	R1 := secp256k1.NewPublicKey(&R1Point.X, &R1Point.Y)

	// R2 = sB_ - eC_
	var B_Point, sB, eNegC, R2Point secp256k1.JacobianPoint
	B_.AsJacobian(&B_Point)
	secp256k1.ScalarMultNonConst(&s.Key, &B_Point, &sB)

	var C_Point secp256k1.JacobianPoint
	C_.AsJacobian(&C_Point)
	secp256k1.ScalarMultNonConst(&eNeg, &C_Point, &eNegC)

	secp256k1.AddNonConst(&sB, &eNegC, &R2Point)
	R2Point.ToAffine()
	R2 := secp256k1.NewPublicKey(&R2Point.X, &R2Point.Y)

	hash := HashE([]*secp256k1.PublicKey{R1, R2, A, C_})
	var expected secp256k1.ModNScalar
	expected.SetBytes(&hash)

	return e.Key.Equals(&expected)
}
