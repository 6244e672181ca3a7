package token

import "errors"

var (
	// ErrMalformedToken — строка не является JWT из трёх сегментов,
	// либо заголовок/claims не декодируются, либо обязательные claims отсутствуют.
	ErrMalformedToken = errors.New("malformed token")

	// ErrInvalidSignature — подпись не совпала с HS256 от серверного секрета
	// (включая попытку подменить alg в заголовке).
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrExpired — exp в прошлом относительно часов кодека (с учётом leeway).
	ErrExpired = errors.New("token expired")

	// ErrAudienceMismatch — claim aud отсутствует или не содержит ожидаемую аудиторию.
	ErrAudienceMismatch = errors.New("token audience mismatch")

	// ErrWrongTokenKind — refresh-токен предъявлен там, где нужен access, и наоборот.
	ErrWrongTokenKind = errors.New("wrong token kind")

	// ErrInvalidInput — некорректные аргументы выпуска (пустой subject, ttl <= 0, неизвестный kind).
	ErrInvalidInput = errors.New("invalid token input")
)
