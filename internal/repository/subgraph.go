package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// neighbourQuery selects one kind of edge around a taxpayer. The first column
// is the neighbour's id and every other column becomes a node property. The
// two placeholders are the taxpayer id and the row limit.
type neighbourQuery struct {
	edge    string
	kind    string
	outward bool // taxpayer -> neighbour
	query   string
}

var neighbourQueries = []neighbourQuery{
	{domain.EdgeIssuedBy, "Invoice", false, `
		SELECT id, invoice_number, invoice_type, invoice_date, period
		FROM invoices WHERE issuer_id = ? ORDER BY id LIMIT ?`},
	{domain.EdgeReceivedBy, "Invoice", false, `
		SELECT id, invoice_number, invoice_type, invoice_date, period
		FROM invoices WHERE recipient_id = ? ORDER BY id LIMIT ?`},
	{domain.EdgeFiled, "Return", true, `
		SELECT id, return_type, period, filing_status, filed_at
		FROM returns WHERE taxpayer_id = ? ORDER BY period, id LIMIT ?`},
	{domain.EdgePaidTaxIn, "Payment", true, `
		SELECT id, period, amount
		FROM payments WHERE taxpayer_id = ? ORDER BY period, id LIMIT ?`},
}

// einvoiceQuery finds e-invoices registering the taxpayer's issued invoices.
// The second column is the invoice id the edge points at.
const einvoiceQuery = `
	SELECT e.id, e.invoice_id, e.status
	FROM einvoices e
	JOIN invoices i ON i.id = e.invoice_id
	WHERE i.issuer_id = ?
	ORDER BY e.id
	LIMIT ?`

// Subgraph returns the taxpayer and the entities one edge away from it, plus
// e-invoices registering its invoices. At most limit edges are returned; a
// non-positive limit means domain.SubgraphEdgeLimit. Unknown taxpayers yield
// an error matching both ErrNotFound and domain.ErrTaxpayerNotFound.
func (r *SQLRepository) Subgraph(ctx context.Context, taxpayerID string, limit int) (*domain.Subgraph, error) {
	if limit <= 0 {
		limit = domain.SubgraphEdgeLimit
	}

	root := domain.SubgraphNode{ID: taxpayerID, Kind: "Taxpayer"}
	var name, status, state string
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT legal_name, status, state_code FROM taxpayers WHERE id = ?`), taxpayerID,
	).Scan(&name, &status, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %w %s", ErrNotFound, domain.ErrTaxpayerNotFound, taxpayerID)
	}
	if err != nil {
		return nil, fmt.Errorf("load taxpayer %s: %w", taxpayerID, err)
	}
	root.Properties = map[string]string{"legal_name": name, "status": status, "state_code": state}

	g := &domain.Subgraph{Root: taxpayerID, Nodes: []domain.SubgraphNode{root}, Edges: []domain.SubgraphEdge{}}
	seen := map[string]bool{"Taxpayer/" + taxpayerID: true}
	addNode := func(n domain.SubgraphNode) {
		if key := n.Kind + "/" + n.ID; !seen[key] {
			seen[key] = true
			g.Nodes = append(g.Nodes, n)
		}
	}
	addEdge := func(from, typ, to string) {
		g.Edges = append(g.Edges, domain.SubgraphEdge{
			ID:     from + "-" + typ + "-" + to,
			Source: from,
			Target: to,
			Type:   typ,
		})
	}

	for _, nq := range neighbourQueries {
		nodes, err := r.take(ctx, nq.query, taxpayerID, limit-len(g.Edges), &g.Truncated)
		if err != nil {
			return nil, fmt.Errorf("%s edges of %s: %w", nq.edge, taxpayerID, err)
		}
		for _, n := range nodes {
			n.Kind = nq.kind
			addNode(n)
			if nq.outward {
				addEdge(taxpayerID, nq.edge, n.ID)
			} else {
				addEdge(n.ID, nq.edge, taxpayerID)
			}
		}
	}

	nodes, err := r.take(ctx, einvoiceQuery, taxpayerID, limit-len(g.Edges), &g.Truncated)
	if err != nil {
		return nil, fmt.Errorf("e-invoices of %s: %w", taxpayerID, err)
	}
	for _, n := range nodes {
		invoiceID := n.Properties["invoice_id"]
		// Only link e-invoices whose invoice made it into the graph.
		if !seen["Invoice/"+invoiceID] {
			continue
		}
		n.Kind = "EInvoice"
		addNode(n)
		addEdge(n.ID, domain.EdgeRegisters, invoiceID)
	}
	return g, nil
}

// take fetches up to room neighbours, setting *truncated when more exist.
func (r *SQLRepository) take(ctx context.Context, query, taxpayerID string, room int, truncated *bool) ([]domain.SubgraphNode, error) {
	room = max(room, 0)
	nodes, err := r.neighbours(ctx, query, taxpayerID, room+1)
	if err != nil {
		return nil, err
	}
	if len(nodes) > room {
		*truncated = true
		nodes = nodes[:room]
	}
	return nodes, nil
}

// neighbours runs one neighbourQuery and returns its rows as property bags.
func (r *SQLRepository) neighbours(ctx context.Context, query, taxpayerID string, limit int) ([]domain.SubgraphNode, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), taxpayerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []domain.SubgraphNode
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		n := domain.SubgraphNode{ID: vals[0].String, Properties: make(map[string]string, len(cols)-1)}
		for i, col := range cols[1:] {
			if v := vals[i+1]; v.Valid {
				n.Properties[col] = v.String
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
