package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow graphs, stored whole per workflow
			CREATE TABLE workflows (
				project_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT false,
				nodes JSONB NOT NULL DEFAULT '{}',
				connections JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (project_id, id)
			);

			CREATE INDEX idx_workflows_active ON workflows(project_id, active);

			-- Scoped variables; scope_id is the session id, the user id or '' for global
			CREATE TABLE variables (
				project_id VARCHAR(255) NOT NULL,
				scope VARCHAR(16) NOT NULL CHECK (scope IN ('session', 'user', 'global')),
				scope_id VARCHAR(255) NOT NULL DEFAULT '',
				key VARCHAR(255) NOT NULL,
				value JSONB,
				expires_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (project_id, scope, scope_id, key)
			);

			CREATE INDEX idx_variables_expires_at ON variables(project_id, expires_at) WHERE expires_at IS NOT NULL;
		`,
		2: `
			-- Read-only user directory consulted by lookup nodes
			CREATE TABLE chat_users (
				project_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				linked BOOLEAN NOT NULL DEFAULT false,
				balance NUMERIC(20, 4) NOT NULL DEFAULT 0,
				PRIMARY KEY (project_id, id)
			);

			-- Suspended runs, at most one per workflow and session
			CREATE TABLE execution_states (
				execution_id VARCHAR(64) PRIMARY KEY,
				project_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				session_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL DEFAULT '',
				chat_id VARCHAR(255) NOT NULL DEFAULT '',
				current_node_id VARCHAR(255) NOT NULL,
				steps INT NOT NULL DEFAULT 0,
				path JSONB NOT NULL DEFAULT '[]',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				suspended_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_execution_states_session ON execution_states(project_id, workflow_id, session_id);

			-- Outcome of each run segment
			CREATE TABLE execution_logs (
				id BIGSERIAL PRIMARY KEY,
				execution_id VARCHAR(64) NOT NULL,
				project_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				status VARCHAR(16) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'suspended')),
				path JSONB NOT NULL DEFAULT '[]',
				last_node_id VARCHAR(255) NOT NULL DEFAULT '',
				failed_node_id VARCHAR(255) NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				steps INT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_logs_workflow ON execution_logs(project_id, workflow_id, id DESC);
		`,
	}
}
