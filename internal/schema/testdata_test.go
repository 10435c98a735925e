package schema

func shopTables() []Table {
	return []Table{
		{Name: "customers", Columns: []Column{
			{Name: "customer_id", Type: "integer"},
			{Name: "name", Type: "text"},
			{Name: "city", Type: "text"},
		}},
		{Name: "orders", Columns: []Column{
			{Name: "order_id", Type: "integer"},
			{Name: "customer_id", Type: "integer"},
			{Name: "order_date", Type: "date"},
			{Name: "total_amount", Type: "numeric"},
		}},
		{Name: "products", Columns: []Column{
			{Name: "product_id", Type: "integer"},
			{Name: "name", Type: "text"},
			{Name: "price", Type: "numeric"},
		}},
	}
}
