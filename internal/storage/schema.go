package storage

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS wallet_ledgers (
		wallet_id TEXT PRIMARY KEY,
		network TEXT NOT NULL,
		primary_address TEXT NOT NULL,
		checked_height BIGINT NOT NULL,
		checked_at TIMESTAMPTZ NOT NULL,
		tx_count INTEGER NOT NULL,
		enote_count INTEGER NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS wallet_transactions (
		wallet_id TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		state TEXT NOT NULL,
		block_height BIGINT,
		block_time TIMESTAMPTZ,
		time_lock TEXT NOT NULL DEFAULT '',
		received BIGINT NOT NULL,
		sent BIGINT NOT NULL,
		net BIGINT NOT NULL,
		fee BIGINT NOT NULL,
		change BIGINT NOT NULL,
		payments JSONB NOT NULL DEFAULT '[]',
		PRIMARY KEY (wallet_id, tx_hash)
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_transactions_height
		ON wallet_transactions(wallet_id, block_height DESC NULLS FIRST);

	CREATE TABLE IF NOT EXISTS wallet_enotes (
		wallet_id TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		output_index INTEGER NOT NULL,
		account_index INTEGER NOT NULL,
		sub_address_index INTEGER NOT NULL,
		amount BIGINT NOT NULL,
		public_key TEXT,
		key_image TEXT,
		age BIGINT NOT NULL,
		spent BOOLEAN NOT NULL,
		unlock_kind TEXT,
		unlock_height BIGINT,
		unlock_time TIMESTAMPTZ,
		PRIMARY KEY (wallet_id, tx_hash, output_index)
	);

	CREATE TABLE IF NOT EXISTS refresh_checkpoints (
		wallet_id TEXT PRIMARY KEY,
		network TEXT NOT NULL,
		height BIGINT NOT NULL,
		block_time TIMESTAMPTZ NOT NULL,
		tx_count INTEGER NOT NULL,
		enote_count INTEGER NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tx_records (
		id BIGSERIAL PRIMARY KEY,
		wallet_id TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		public_key TEXT NOT NULL DEFAULT '',
		key_image TEXT NOT NULL DEFAULT '',
		recipient TEXT NOT NULL DEFAULT '',
		sub_address_major INTEGER NOT NULL,
		sub_address_minor INTEGER NOT NULL,
		amount BIGINT NOT NULL,
		fee BIGINT NOT NULL,
		change BIGINT NOT NULL,
		height BIGINT NOT NULL,
		unlock_time TEXT NOT NULL,
		block_timestamp BIGINT NOT NULL,
		state SMALLINT NOT NULL,
		coinbase BOOLEAN NOT NULL,
		incoming BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_tx_records_wallet ON tx_records(wallet_id, id);

	CREATE TABLE IF NOT EXISTS remote_nodes (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL,
		network TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (url, network)
	);
`
