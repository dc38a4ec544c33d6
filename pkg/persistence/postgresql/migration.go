package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'published', 'unpublished')),
				execution_mode VARCHAR(50) NOT NULL DEFAULT 'legacy',
				owner VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_owner ON workflows(owner);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			-- Graph nodes
			CREATE TABLE workflow_nodes (
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				node_type VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				config JSONB DEFAULT '{}',
				response_name VARCHAR(255),
				credential_id VARCHAR(255),
				position_x INT DEFAULT 0,
				position_y INT DEFAULT 0,
				enabled BOOLEAN NOT NULL DEFAULT true,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_nodes_type ON workflow_nodes(node_type);

			-- Graph edges
			CREATE TABLE workflow_edges (
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				source_node_id VARCHAR(255) NOT NULL,
				target_node_id VARCHAR(255) NOT NULL,
				source_handle VARCHAR(255),
				target_handle VARCHAR(255),
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_edges_source ON workflow_edges(workflow_id, source_node_id);
			CREATE INDEX idx_workflow_edges_target ON workflow_edges(workflow_id, target_node_id);
		`,
		2: `
			-- Run and node-run execution records
			CREATE TABLE workflow_runs (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				user_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'success', 'failure')),
				trigger_type VARCHAR(50),
				trigger_data JSONB DEFAULT '{}',
				locked_at TIMESTAMP WITH TIME ZONE,
				locked_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_runs_workflow_id ON workflow_runs(workflow_id);
			CREATE INDEX idx_workflow_runs_user_status ON workflow_runs(user_id, status);

			CREATE TABLE node_runs (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'success', 'failed', 'skipped')),
				retry_count INT NOT NULL DEFAULT 0,
				output JSONB,
				error TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (run_id, node_id)
			);

			CREATE INDEX idx_node_runs_run_id ON node_runs(run_id);

			-- Monthly usage counters for quota enforcement
			CREATE TABLE usage_records (
				id UUID PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				period VARCHAR(7) NOT NULL,
				run_count INT NOT NULL DEFAULT 0,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (user_id, period)
			);
		`,
	}
}
